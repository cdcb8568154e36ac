package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Metadata sources, from least to most trusted.
const (
	SourceContainerTags = "container_tags"
	SourceFilename      = "filename"
	SourceCatalog       = "catalog"
	SourceMusicBrainz   = "musicbrainz"
	SourceReview        = "review"
)

// Metadata is the descriptive metadata resolved for a file.
type Metadata struct {
	MediaFileID   int64
	Title         string
	Artist        string
	Album         string
	Year          int
	Genre         string
	Country       string
	Language      string
	MusicBrainzID string
	Source        string
	Quality       float64
	UpdatedAt     time.Time
}

// UpsertMetadata writes m unless the stored row came from a source of
// strictly higher quality. Returns whether the row was written.
func (q *queries) UpsertMetadata(ctx context.Context, m *Metadata) (bool, error) {
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO media_metadata (media_file_id, title, artist, album, year, genre, country,
		                            language, musicbrainz_id, source, quality, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_file_id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			album = excluded.album,
			year = excluded.year,
			genre = excluded.genre,
			country = excluded.country,
			language = excluded.language,
			musicbrainz_id = excluded.musicbrainz_id,
			source = excluded.source,
			quality = excluded.quality,
			updated_at = excluded.updated_at
		WHERE excluded.quality >= media_metadata.quality
	`, m.MediaFileID, nullString(m.Title), nullString(m.Artist), nullString(m.Album), m.Year,
		nullString(m.Genre), nullString(m.Country), nullString(m.Language), nullString(m.MusicBrainzID),
		m.Source, m.Quality, now())
	if err != nil {
		return false, wrapErr("upsert metadata", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("upsert metadata", err)
	}
	return n > 0, nil
}

// GetMetadata returns the metadata for a file, or nil.
func (q *queries) GetMetadata(ctx context.Context, fileID int64) (*Metadata, error) {
	m := &Metadata{}
	err := q.q.QueryRowContext(ctx, `
		SELECT media_file_id, COALESCE(title, ''), COALESCE(artist, ''), COALESCE(album, ''),
		       COALESCE(year, 0), COALESCE(genre, ''), COALESCE(country, ''), COALESCE(language, ''),
		       COALESCE(musicbrainz_id, ''), source, quality, updated_at
		FROM media_metadata WHERE media_file_id = ?
	`, fileID).Scan(&m.MediaFileID, &m.Title, &m.Artist, &m.Album, &m.Year, &m.Genre, &m.Country,
		&m.Language, &m.MusicBrainzID, &m.Source, &m.Quality, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get metadata", err)
	}
	return m, nil
}
