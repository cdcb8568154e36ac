// Package musicbrainz looks up recording metadata for catalog candidates.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/franz/media-organizer/internal/store"
	"github.com/franz/media-organizer/internal/util"
)

const (
	// DefaultBaseURL is the MusicBrainz API base URL
	DefaultBaseURL = "https://musicbrainz.org/ws/2"

	// UserAgent identifies this application to MusicBrainz
	// MusicBrainz requires a proper user agent
	UserAgent = "MediaOrganizer/1.0.0 (https://github.com/franz/media-organizer)"

	// DefaultRateLimit is the MusicBrainz limit of one request per second
	DefaultRateLimit = 1 * time.Second

	// QualityMusicBrainz is the metadata quality of a recording lookup.
	QualityMusicBrainz = 0.8
)

// Options configure a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit time.Duration
	UserAgent string
}

// Client handles MusicBrainz API requests with rate limiting
type Client struct {
	httpClient  *http.Client
	baseURL     string
	userAgent   string
	rateLimiter *time.Ticker
}

// NewClient creates a new MusicBrainz API client
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = DefaultRateLimit
	}
	if opts.UserAgent == "" {
		opts.UserAgent = UserAgent
	}
	return &Client{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		userAgent:   opts.UserAgent,
		rateLimiter: time.NewTicker(opts.RateLimit),
	}
}

// Close releases resources used by the client
func (c *Client) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
}

// Recording is a MusicBrainz recording with the includes we request.
type Recording struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Length       int            `json:"length"`
	Score        int            `json:"score"`
	ArtistCredit []ArtistCredit `json:"artist-credit"`
	Releases     []Release      `json:"releases"`
	Tags         []Tag          `json:"tags"`
	Genres       []Tag          `json:"genres"`
}

// ArtistCredit names one credited artist.
type ArtistCredit struct {
	Name   string `json:"name"`
	Artist Artist `json:"artist"`
}

// Artist represents an artist from MusicBrainz
type Artist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	SortName string `json:"sort-name"`
	Country  string `json:"country"`
}

// Release is one release a recording appears on.
type Release struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Date    string `json:"date"`
	Country string `json:"country"`
}

// Tag is a folksonomy tag or genre with its vote count.
type Tag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type recordingSearchResult struct {
	Recordings []Recording `json:"recordings"`
	Count      int         `json:"count"`
}

// ArtistName joins the credited artist names.
func (r *Recording) ArtistName() string {
	var b strings.Builder
	for i, ac := range r.ArtistCredit {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ac.Name)
	}
	return b.String()
}

// Country returns the earliest release country, falling back to the
// first credited artist's country.
func (r *Recording) Country() string {
	if rel := r.firstRelease(); rel != nil && rel.Country != "" && rel.Country != "XW" {
		return rel.Country
	}
	for _, ac := range r.ArtistCredit {
		if ac.Artist.Country != "" {
			return ac.Artist.Country
		}
	}
	return ""
}

// Genre returns the most voted genre, or tag when no genre is set.
func (r *Recording) Genre() string {
	list := r.Genres
	if len(list) == 0 {
		list = r.Tags
	}
	if len(list) == 0 {
		return ""
	}
	sorted := append([]Tag(nil), list...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })
	return sorted[0].Name
}

func (r *Recording) firstRelease() *Release {
	var first *Release
	for i := range r.Releases {
		rel := &r.Releases[i]
		if first == nil || (rel.Date != "" && (first.Date == "" || rel.Date < first.Date)) {
			first = rel
		}
	}
	return first
}

// Metadata converts the recording into a metadata row for fileID.
func (r *Recording) Metadata(fileID int64) *store.Metadata {
	m := &store.Metadata{
		MediaFileID:   fileID,
		Title:         r.Title,
		Artist:        r.ArtistName(),
		Genre:         r.Genre(),
		Country:       r.Country(),
		MusicBrainzID: r.ID,
		Source:        store.SourceMusicBrainz,
		Quality:       QualityMusicBrainz,
	}
	if rel := r.firstRelease(); rel != nil {
		m.Album = rel.Title
		if len(rel.Date) >= 4 {
			m.Year, _ = strconv.Atoi(rel.Date[:4])
		}
	}
	return m
}

// LookupRecording retrieves a recording with artists, releases, tags and
// genres by MBID.
func (c *Client) LookupRecording(ctx context.Context, mbid string) (*Recording, error) {
	if mbid == "" {
		return nil, fmt.Errorf("MBID cannot be empty")
	}
	urlStr := fmt.Sprintf("%s/recording/%s?fmt=json&inc=artists+releases+tags+genres",
		c.baseURL, url.PathEscape(mbid))

	util.DebugLog("MusicBrainz API: looking up recording %s", mbid)

	var rec Recording
	if err := c.get(ctx, urlStr, &rec); err != nil {
		return nil, fmt.Errorf("recording %s: %w", mbid, err)
	}
	return &rec, nil
}

// SearchRecording returns the best recording for title and artist with a
// search score of at least minScore, or nil.
func (c *Client) SearchRecording(ctx context.Context, title, artist string, minScore int) (*Recording, error) {
	if title == "" {
		return nil, fmt.Errorf("recording title cannot be empty")
	}
	query := fmt.Sprintf(`recording:"%s"`, escapeLucene(title))
	if artist != "" {
		query += fmt.Sprintf(` AND artist:"%s"`, escapeLucene(artist))
	}
	urlStr := fmt.Sprintf("%s/recording/?query=%s&fmt=json&limit=5", c.baseURL, url.QueryEscape(query))

	util.DebugLog("MusicBrainz API: searching recording '%s' by '%s'", title, artist)

	var result recordingSearchResult
	if err := c.get(ctx, urlStr, &result); err != nil {
		return nil, err
	}
	if len(result.Recordings) == 0 || result.Recordings[0].Score < minScore {
		util.DebugLog("MusicBrainz: no confident match for '%s'", title)
		return nil, nil
	}
	return &result.Recordings[0], nil
}

func (c *Client) get(ctx context.Context, urlStr string, out any) error {
	if err := c.waitForRateLimit(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "GET", urlStr, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", util.ErrMetadataUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("not found (404): %w", util.ErrNotFound)
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: service unavailable (%d) - rate limit exceeded or maintenance",
			util.ErrMetadataUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: server error %d", util.ErrMetadataUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// waitForRateLimit ensures we don't exceed the configured request rate
func (c *Client) waitForRateLimit(ctx context.Context) error {
	select {
	case <-c.rateLimiter.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var luceneReplacer = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeLucene(s string) string {
	return luceneReplacer.Replace(s)
}
