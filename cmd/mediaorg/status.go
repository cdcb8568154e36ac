package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many files are in each processing state",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to count files: %w", err)
	}

	total := 0
	rows := make([][]string, 0, len(counts))
	for _, st := range store.AllStatuses() {
		n := counts[st]
		total += n
		rows = append(rows, []string{string(st), strconv.Itoa(n)})
	}
	rows = append(rows, []string{"total", strconv.Itoa(total)})
	fmt.Println(renderTable([]string{"Status", "Files"}, rows, 1))

	active, err := e.store.GetActiveModel(ctx)
	if err != nil {
		return err
	}
	if active == nil {
		util.WarnLog("No active model. Run 'mediaorg model init' before ingesting.")
	} else {
		util.InfoLog("Active model: v%d", active.Version)
	}

	violations, err := e.store.CheckReviewInvariant(ctx)
	if err != nil {
		return err
	}
	for _, v := range violations {
		util.ErrorLog("Review queue inconsistency: %s", v)
	}

	dups, err := e.store.ListDuplicates(ctx)
	if err != nil {
		return err
	}
	if len(dups) > 0 {
		rows := make([][]string, 0, len(dups))
		for _, g := range dups {
			rows = append(rows, []string{g.ContentHash[:min(12, len(g.ContentHash))], strings.Join(g.Paths, "\n")})
		}
		util.WarnLog("%d sets of byte-identical files", len(dups))
		fmt.Println(renderTable([]string{"Content", "Paths"}, rows))
	}
	return nil
}
