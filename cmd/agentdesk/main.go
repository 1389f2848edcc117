// Command agentdesk is the terminal console for support agents.
package main

import (
	"fmt"
	"os"

	"github.com/jobdam/agentdesk/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
