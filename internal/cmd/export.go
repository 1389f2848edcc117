package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jobdam/agentdesk/internal/appdir"
	"github.com/jobdam/agentdesk/internal/export"
	"github.com/jobdam/agentdesk/internal/support"
)

var exportOutput string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the persisted transcript as HTML",
	Long: `Render the persisted support transcript as a standalone HTML
document. Chat text is treated as markdown and sanitized; system and
raw lines are included verbatim.

Writes to stdout unless -o is given.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	stateDir, err := appdir.StateDir()
	if err != nil {
		return err
	}

	snap, err := support.NewSnapshotStore(stateDir).Load()
	if err != nil {
		return err
	}
	if len(snap.Transcript) == 0 {
		return fmt.Errorf("no persisted transcript to export")
	}

	title := "Support session"
	if snap.ActiveRoom != "" {
		title = "Support session " + snap.ActiveRoom
	}

	doc, err := export.DefaultRenderer().Document(title, snap.Transcript)
	if err != nil {
		return fmt.Errorf("failed to render transcript: %w", err)
	}

	if exportOutput == "" {
		fmt.Print(doc)
		return nil
	}
	if err := os.WriteFile(exportOutput, []byte(doc), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	fmt.Printf("📄 Transcript exported to %s (%d lines)\n", exportOutput, len(snap.Transcript))
	return nil
}
