package main

import (
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Send files that failed extraction back for another attempt",
	Long: `Move every file in extraction_failed back to discovered so the next
'mediaorg ingest --resume' tries it again. Useful after installing a missing
decoder or replacing a damaged file.`,
	RunE: runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{pipeline: true, events: true})
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := e.pipeline.Requeue(cmd.Context())
	if err != nil {
		return err
	}
	if n == 0 {
		util.InfoLog("No failed files to requeue")
		return nil
	}
	util.SuccessLog("Requeued %d files", n)
	return nil
}
