// Command digest-worker runs the weekly cron trigger half of C15: no HTTP
// listener, just the scheduler driving the Orchestrator on the configured
// cadence until it receives a shutdown signal.
package main

import (
	"fmt"
	"os"

	"github.com/planetaryescape/ai-digest-sub001/cmd/digest-worker/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
