// Command digest-api serves the HTTP entry points from §6: POST /run-now,
// POST /historical, GET /execution/{id}, GET /history, and GET /healthz.
package main

import (
	"fmt"
	"os"

	"github.com/planetaryescape/ai-digest-sub001/cmd/digest-api/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
