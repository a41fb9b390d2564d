package main

import (
	"fmt"
	"log"
	"os"
)

const usage = `Usage: traffic-analysis <command> [flags]

Commands:
  run      capture a video source and log vehicle events
  report   compute the speed report for an event log

Run 'traffic-analysis <command> -h' for command flags.
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "report":
		reportCommand(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}
