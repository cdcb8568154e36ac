package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/franz/media-organizer/internal/match"
	"github.com/franz/media-organizer/internal/review"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work through files the pipeline could not decide on",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List files awaiting review, oldest first",
	RunE:  runReviewList,
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <file-id>",
	Short: "Show the provisional identification and all candidates of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewShow,
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <file-id>",
	Short: "Record a review decision",
	Long: `Record a decision for a file awaiting review. Exactly one of --confirm,
--correct or --unidentifiable is required.

  --confirm          the provisional identification is right
  --correct          the file is something else: give --work (a catalog work id)
                     or at least --title
  --unidentifiable   the file cannot be identified

The decision is stored as feedback and used by the next 'mediaorg retrain'.`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewSubmit,
}

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewSubmitCmd)

	reviewListCmd.Flags().IntP("limit", "n", 50, "maximum entries to list (0 = all)")

	reviewSubmitCmd.Flags().Bool("confirm", false, "accept the provisional identification")
	reviewSubmitCmd.Flags().Bool("correct", false, "supply the correct identity")
	reviewSubmitCmd.Flags().Bool("unidentifiable", false, "mark the file as unidentifiable")
	reviewSubmitCmd.Flags().Int64("work", 0, "catalog work id (with --correct)")
	reviewSubmitCmd.Flags().String("title", "", "title (with --correct)")
	reviewSubmitCmd.Flags().String("artist", "", "artist (with --correct)")
	reviewSubmitCmd.Flags().String("album", "", "album (with --correct)")
	reviewSubmitCmd.Flags().Int("year", 0, "year (with --correct)")
	reviewSubmitCmd.Flags().String("reviewer", "", "reviewer name (default $USER)")
	reviewSubmitCmd.Flags().String("notes", "", "free-form notes")
	reviewSubmitCmd.Flags().Float64("weight", 1, "training weight of this decision")
	reviewSubmitCmd.MarkFlagsMutuallyExclusive("confirm", "correct", "unidentifiable")
	reviewSubmitCmd.MarkFlagsOneRequired("confirm", "correct", "unidentifiable")
}

func runReviewList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	items, err := review.New(e.store).ListPending(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		util.SuccessLog("Review queue is empty")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		suggestion := "-"
		if c := it.Provisional.Candidate; c != nil {
			suggestion = describeCandidate(c)
		}
		rows = append(rows, []string{
			strconv.FormatInt(it.File.ID, 10),
			it.File.Path,
			fmt.Sprintf("%.3f", it.Entry.Confidence),
			suggestion,
			it.Entry.Reason,
			humanize.Time(it.Entry.EnqueuedAt),
		})
	}
	fmt.Println(renderTable([]string{"File", "Path", "Score", "Suggestion", "Reason", "Queued"}, rows, 0, 2))
	return nil
}

func runReviewShow(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[0])
	if err != nil {
		return err
	}

	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	it, err := review.New(e.store).Show(cmd.Context(), fileID)
	if err != nil {
		return err
	}

	fmt.Printf("File %d: %s\n", it.File.ID, it.File.Path)
	fmt.Printf("  Kind:     %s (%s)\n", it.File.Kind, humanize.Bytes(uint64(it.File.SizeBytes)))
	fmt.Printf("  Score:    %.3f (pre-boost %.3f, model v%d)\n",
		it.Provisional.Score, it.Provisional.PreBoost, it.Provisional.ModelVersion)
	if it.Provisional.BoostReason != "" {
		fmt.Printf("  Boost:    %s\n", it.Provisional.BoostReason)
	}
	fmt.Printf("  Reason:   %s\n", it.Entry.Reason)
	if md := it.Metadata; md != nil {
		fmt.Printf("  Tags:     %s - %s (%s, quality %.2f)\n", md.Artist, md.Title, md.Source, md.Quality)
	}
	if c := it.Provisional.Candidate; c != nil {
		fmt.Printf("  Proposed: %s\n", describeCandidate(c))
	}

	if len(it.Candidates) > 0 {
		rows := make([][]string, 0, len(it.Candidates))
		for _, c := range it.Candidates {
			rows = append(rows, []string{
				strconv.FormatInt(c.WorkID, 10),
				c.Title,
				c.Artist,
				fmt.Sprintf("%.3f", c.Similarity),
				strconv.Itoa(c.Corroboration),
			})
		}
		fmt.Println()
		fmt.Println(renderTable([]string{"Work", "Title", "Artist", "Similarity", "Corroboration"}, rows, 0, 3, 4))
	}
	return nil
}

func runReviewSubmit(cmd *cobra.Command, args []string) error {
	fileID, err := parseFileID(args[0])
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	d := review.Decision{FileID: fileID}
	switch {
	case mustBool(flags.GetBool("confirm")):
		d.Action = review.ActionConfirm
	case mustBool(flags.GetBool("correct")):
		d.Action = review.ActionCorrect
	default:
		d.Action = review.ActionUnidentifiable
	}
	d.WorkID, _ = flags.GetInt64("work")
	d.Title, _ = flags.GetString("title")
	d.Artist, _ = flags.GetString("artist")
	d.Album, _ = flags.GetString("album")
	d.Year, _ = flags.GetInt("year")
	d.Notes, _ = flags.GetString("notes")
	d.Weight, _ = flags.GetFloat64("weight")
	d.Reviewer, _ = flags.GetString("reviewer")
	if d.Reviewer == "" {
		d.Reviewer = os.Getenv("USER")
	}

	e, err := openEnv(cmd, envOptions{pipeline: true, events: true})
	if err != nil {
		return err
	}
	defer e.Close()

	out, err := review.New(e.store).Submit(cmd.Context(), d)
	if err != nil {
		return err
	}
	if out.Metadata != nil {
		util.SuccessLog("File %d resolved as %s: %s - %s", out.FileID, out.FeedbackType,
			out.Metadata.Artist, out.Metadata.Title)
	} else {
		util.SuccessLog("File %d resolved as %s", out.FileID, out.FeedbackType)
	}

	res, err := e.pipeline.RetrainIfDue(cmd.Context())
	switch {
	case err == nil && res != nil:
		util.InfoLog("Retrained after review: model v%d (activated: %v)", res.Version, res.Activated)
	case err != nil:
		util.WarnLog("Automatic retrain failed: %v", err)
	}
	return nil
}

func describeCandidate(c *match.Candidate) string {
	s := c.Title
	if c.Artist != "" {
		s = c.Artist + " - " + s
	}
	return fmt.Sprintf("%s (work %d, similarity %.2f)", s, c.WorkID, c.Similarity)
}

func parseFileID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid file id %q", raw)
	}
	return id, nil
}

func mustBool(v bool, _ error) bool {
	return v
}
