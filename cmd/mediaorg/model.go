package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/score"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Inspect and manage scoring model versions",
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List published model versions",
	RunE:  runModelList,
}

var modelActivateCmd = &cobra.Command{
	Use:   "activate <version>",
	Short: "Make a published model version the active one",
	Long: `Make a published model version the active one. Use this to roll back to
an earlier version; files scored from now on use the activated model.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelActivate,
}

var modelInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Publish and activate the built-in prior model on an empty database",
	RunE:  runModelInit,
}

func init() {
	rootCmd.AddCommand(modelCmd)
	modelCmd.AddCommand(modelListCmd, modelActivateCmd, modelInitCmd)
}

func runModelList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	models, err := score.NewRegistry(e.store).List(cmd.Context())
	if err != nil {
		return err
	}
	if len(models) == 0 {
		util.WarnLog("No models published. Run 'mediaorg model init'.")
		return nil
	}

	rows := make([][]string, 0, len(models))
	for _, m := range models {
		active := ""
		if m.Active {
			active = "*"
		}
		rows = append(rows, []string{
			active,
			strconv.Itoa(m.Version),
			strconv.Itoa(m.TrainingSize),
			strconv.Itoa(m.ValidationSize),
			fmt.Sprintf("%.3f", m.ValidationAccuracy),
			fmt.Sprintf("%.3f", m.ValidationLogLoss),
			humanize.Time(m.CreatedAt),
		})
	}
	fmt.Println(renderTable(
		[]string{"", "Version", "Train", "Validation", "Accuracy", "Log-loss", "Created"},
		rows, 1, 2, 3, 4, 5))
	return nil
}

func runModelActivate(cmd *cobra.Command, args []string) error {
	version, err := strconv.Atoi(args[0])
	if err != nil || version <= 0 {
		return fmt.Errorf("invalid model version %q", args[0])
	}

	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	return score.NewRegistry(e.store).Activate(cmd.Context(), version)
}

func runModelInit(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	version, created, err := score.NewRegistry(e.store).Bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	if !created {
		util.InfoLog("Models already published; nothing to do")
		return nil
	}
	util.SuccessLog("Prior model published as v%d", version)
	return nil
}
