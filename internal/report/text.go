package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/ShaneMarusczak/traffic-analysis/internal/events"
)

const barWidth = 40

var directionLabels = map[events.Direction]string{
	events.DirectionLTR:           "left to right",
	events.DirectionRTL:           "right to left",
	events.DirectionTTB:           "top to bottom",
	events.DirectionBTT:           "bottom to top",
	events.DirectionIndeterminate: "indeterminate",
}

// WriteText renders the distribution as a plain-text report.
func WriteText(w io.Writer, d Distribution) error {
	var b strings.Builder

	b.WriteString("TRAFFIC SPEED REPORT\n")
	b.WriteString("====================\n\n")
	fmt.Fprintf(&b, "Total vehicles observed: %d\n", d.TotalVehicles)

	if d.Insufficient {
		b.WriteString("\nNot enough vehicles for a meaningful distribution.\n")
		b.WriteString("Collect a longer run and regenerate the report.\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("\nKey metrics (px/s, normalized)\n")
	b.WriteString("------------------------------\n")
	fmt.Fprintf(&b, "  mean:   %8.1f\n", d.Mean)
	fmt.Fprintf(&b, "  median: %8.1f\n", d.Median)
	fmt.Fprintf(&b, "  stddev: %8.1f\n", d.StdDev)
	fmt.Fprintf(&b, "  min:    %8.1f\n", d.Min)
	fmt.Fprintf(&b, "  max:    %8.1f\n", d.Max)
	fmt.Fprintf(&b, "  inner range: %.1f to %.1f\n", d.PLow, d.PHigh)

	b.WriteString("\nSpeed distribution\n")
	b.WriteString("------------------\n")
	maxCount := 0
	for _, bin := range d.Bins {
		if bin.Count > maxCount {
			maxCount = bin.Count
		}
	}
	for _, bin := range d.Bins {
		bar := ""
		if maxCount > 0 {
			bar = strings.Repeat("#", bin.Count*barWidth/maxCount)
		}
		fmt.Fprintf(&b, "  %-14s %s %-40s %3d (%5.1f%%)\n",
			bin.Label, binRange(bin), bar, bin.Count, bin.Percent)
	}

	b.WriteString("\nInterpretation\n")
	b.WriteString("--------------\n")
	if d.SpreadWithinThreshold {
		b.WriteString("  Traffic moved at broadly consistent speeds.\n")
	} else {
		b.WriteString("  Speeds varied widely; the roadway carried mixed traffic.\n")
	}

	if len(d.Directional) > 0 {
		b.WriteString("\nBy direction\n")
		b.WriteString("------------\n")
		for _, ds := range d.Directional {
			fmt.Fprintf(&b, "  %-14s %4d vehicles, mean %.1f px/s\n",
				directionLabels[ds.Direction], ds.Count, ds.Mean)
		}
		if d.DirectionalImbalance {
			b.WriteString("\n  The two horizontal directions differ notably in mean speed.\n")
			b.WriteString("  This often reflects perspective or signal timing, not driver behaviour.\n")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func binRange(b Bin) string {
	if b.Open {
		if b.Low == 0 {
			return fmt.Sprintf("(under %.1f)", b.High)
		}
		return fmt.Sprintf("(over %.1f)", b.Low)
	}
	return fmt.Sprintf("(%.1f-%.1f)", b.Low, b.High)
}
