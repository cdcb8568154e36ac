package main

import (
	"errors"

	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Train a new scoring model on all review feedback",
	Long: `Train a new scoring model on every review decision recorded so far.

The new version is always published. It only becomes active when it passes
the validation gate (training.min_accuracy on the held-out split); otherwise
the current model keeps scoring. Only one retraining can run at a time.`,
	RunE: runRetrain,
}

func init() {
	rootCmd.AddCommand(retrainCmd)
}

func runRetrain(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{pipeline: true, events: true})
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.pipeline.Retrain(cmd.Context())
	switch {
	case errors.Is(err, util.ErrInsufficientFeedback):
		util.WarnLog("%v; review more files first", err)
		return nil
	case errors.Is(err, util.ErrValidationFailed):
		util.WarnLog("Model v%d kept inactive: %v", res.Version, err)
		return nil
	}
	return err
}
