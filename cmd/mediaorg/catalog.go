package main

import (
	"fmt"
	"strconv"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
	"github.com/spf13/cobra"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the reference catalog of known works",
}

var catalogAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Fingerprint a reference recording and add it as a known work",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogAdd,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog works",
	RunE:  runCatalogList,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogAddCmd, catalogListCmd)

	catalogAddCmd.Flags().String("title", "", "work title (required)")
	catalogAddCmd.Flags().String("artist", "", "artist")
	catalogAddCmd.Flags().String("album", "", "album")
	catalogAddCmd.Flags().Int("year", 0, "release year")
	catalogAddCmd.Flags().String("genre", "", "genre")
	catalogAddCmd.Flags().String("country", "", "ISO country code")
	catalogAddCmd.Flags().String("language", "", "ISO language code")
	catalogAddCmd.Flags().Float64("popularity", 0, "popularity in [0,1]")
	catalogAddCmd.Flags().String("mbid", "", "MusicBrainz recording id")
	catalogAddCmd.MarkFlagRequired("title")
}

func runCatalogAdd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	w := &store.Work{}
	w.Title, _ = flags.GetString("title")
	w.Artist, _ = flags.GetString("artist")
	w.Album, _ = flags.GetString("album")
	w.Year, _ = flags.GetInt("year")
	w.Genre, _ = flags.GetString("genre")
	w.Country, _ = flags.GetString("country")
	w.Language, _ = flags.GetString("language")
	w.Popularity, _ = flags.GetFloat64("popularity")
	w.MusicBrainzID, _ = flags.GetString("mbid")
	if w.Popularity < 0 || w.Popularity > 1 {
		return fmt.Errorf("popularity must be in [0,1] (got %.3f)", w.Popularity)
	}

	e, err := openEnv(cmd, envOptions{pipeline: true})
	if err != nil {
		return err
	}
	defer e.Close()

	wf, err := e.pipeline.AddWork(cmd.Context(), w, args[0])
	if err != nil {
		return err
	}
	util.SuccessLog("Added work %d %q (%s/v%d, %.1fs)", w.ID, w.Title,
		wf.Algorithm, wf.AlgorithmVersion, float64(wf.DurationMs)/1000)
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	e, err := openEnv(cmd, envOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	works, err := e.store.ListWorks(cmd.Context())
	if err != nil {
		return err
	}
	if len(works) == 0 {
		util.WarnLog("Catalog is empty. Add works with 'mediaorg catalog add'.")
		return nil
	}
	rows := make([][]string, 0, len(works))
	for _, w := range works {
		year := ""
		if w.Year > 0 {
			year = strconv.Itoa(w.Year)
		}
		rows = append(rows, []string{strconv.FormatInt(w.ID, 10), w.Title, w.Artist, w.Album, year, w.Country})
	}
	fmt.Println(renderTable([]string{"Work", "Title", "Artist", "Album", "Year", "Country"}, rows, 0))
	return nil
}
