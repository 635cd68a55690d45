// Package library stores the local music library in sqlite and keeps the data received
// from peers.
package library

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/wire"
)

//go:embed schema.sql
var schema string

const (
	tracksDir  = "tracks"
	streamsDir = "streams"
)

// Config is the configuration of the library.
type Config struct {
	// Path is the path of the sqlite database. ":memory:" keeps the database in memory.
	Path string

	// MediaDir is the directory where audio files are stored.
	MediaDir string
}

// TrackInfo is the metadata of a track.
type TrackInfo struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Genre       string `json:"genre"`
	TrackNumber int64  `json:"track_number"`

	// Duration in milliseconds.
	Duration int64 `json:"duration"`
}

// Library is the sqlite-backed music library.
type Library struct {
	db       *sql.DB
	mediaDir string
	now      func() time.Time
}

// Open opens the library, creating the schema if needed.
func Open(ctx context.Context, config Config) (*Library, error) {
	if config.MediaDir == "" {
		return nil, errors.New("media directory is not set")
	}
	for _, dir := range []string{tracksDir, streamsDir} {
		if err := os.MkdirAll(filepath.Join(config.MediaDir, dir), 0o700); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database failed")
	}
	// Pragmas are per connection and every connection to :memory: opens its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "enabling foreign keys failed")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating schema failed")
	}

	return &Library{
		db:       db,
		mediaDir: config.MediaDir,
		now:      time.Now,
	}, nil
}

// Close closes the database.
func (l *Library) Close() error {
	return errors.WithStack(l.db.Close())
}

// AddTrack stores the track in the library.
func (l *Library) AddTrack(ctx context.Context, info TrackInfo, data []byte) (int64, error) {
	var (
		id   int64
		file string
	)
	err := l.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tracks (title, artist, album, genre, track_number, duration, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			info.Title, info.Artist, info.Album, info.Genre, info.TrackNumber, info.Duration, l.now().Unix())
		if err != nil {
			return errors.WithStack(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errors.WithStack(err)
		}

		file = filepath.Join(tracksDir, strconv.FormatInt(id, 10))
		if err := l.writeFile(file, data); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE tracks SET file = ? WHERE id = ?", file, id)
		return errors.WithStack(err)
	})
	if err != nil {
		// Rolled back track must not leave its file behind.
		if file != "" {
			_ = l.removeFile(file)
		}
		return 0, err
	}
	return id, nil
}

// CreatePlaylist creates playlist containing tracks in the given order.
func (l *Library) CreatePlaylist(ctx context.Context, name string, trackIDs []int64) (int64, error) {
	var id int64
	err := l.tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO playlists (name, created_at) VALUES (?, ?)",
			name, l.now().Unix())
		if err != nil {
			return errors.WithStack(err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errors.WithStack(err)
		}

		for i, trackID := range trackIDs {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO playlist_tracks (playlist_id, position, track_id) VALUES (?, ?, ?)",
				id, i, trackID); err != nil {
				return errors.Wrapf(err, "adding track %d failed", trackID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// StreamFile returns the path of the file keeping the track streamed from peer.
func (l *Library) StreamFile(ctx context.Context, track libshare.Track) (string, error) {
	var file string
	err := l.db.QueryRowContext(ctx, "SELECT file FROM streams WHERE peer = ? AND track_id = ?",
		peerKey(track.Peer), track.ID).Scan(&file)
	if err != nil {
		return "", notFound(err, "stream of track %d", track.ID)
	}
	return filepath.Join(l.mediaDir, file), nil
}

func (l *Library) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.WithStack(tx.Commit())
}

func (l *Library) writeFile(file string, data []byte) error {
	return errors.WithStack(os.WriteFile(filepath.Join(l.mediaDir, file), data, 0o600))
}

func (l *Library) removeFile(file string) error {
	if err := os.Remove(filepath.Join(l.mediaDir, file)); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}

func (l *Library) readFile(file string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.mediaDir, file))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(libshare.ErrNotFound, "file %s", file)
		}
		return nil, errors.WithStack(err)
	}
	return data, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(libshare.ErrNotFound, format, args...)
	}
	return errors.WithStack(err)
}

func peerKey(id wire.PeerID) string {
	return hex.EncodeToString(id[:])
}
