package library

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare"
	"github.com/outofforest/libshare/envelope"
)

type playlistDocument struct {
	Tracks []json.RawMessage `json:"tracks"`
}

type trackDocument struct {
	ID int64 `json:"id"`
}

// AddTracksForPlaylistData stores tracks of the playlist shared by peer. Tracks stored
// previously for the same playlist are replaced.
func (l *Library) AddTracksForPlaylistData(
	ctx context.Context,
	playlist envelope.Document,
	item libshare.NetworkPlaylist,
) error {
	var doc playlistDocument
	if err := playlist.Unmarshal(&doc); err != nil {
		return errors.Wrap(err, "invalid playlist document")
	}

	peer := peerKey(item.Peer)
	return l.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO network_playlists (peer, remote_id, name) VALUES (?, ?, ?)
			ON CONFLICT (peer, remote_id) DO UPDATE SET name = excluded.name`,
			peer, item.ID, item.Name); err != nil {
			return errors.WithStack(err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM network_playlist_tracks WHERE peer = ? AND playlist_id = ?",
			peer, item.ID); err != nil {
			return errors.WithStack(err)
		}

		for i, raw := range doc.Tracks {
			var track trackDocument
			if err := json.Unmarshal(raw, &track); err != nil {
				return errors.Wrapf(err, "invalid track %d", i)
			}
			metadata := &bytes.Buffer{}
			if err := json.Compact(metadata, raw); err != nil {
				return errors.WithStack(err)
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO network_playlist_tracks (peer, playlist_id, position, track_id, metadata)
				VALUES (?, ?, ?, ?, ?)`,
				peer, item.ID, i, track.ID, metadata.String()); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	})
}

// NetworkPlaylistTracks returns tracks stored for the playlist shared by peer.
func (l *Library) NetworkPlaylistTracks(
	ctx context.Context,
	item libshare.NetworkPlaylist,
) ([]envelope.Document, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT metadata
		FROM network_playlist_tracks
		WHERE peer = ? AND playlist_id = ?
		ORDER BY position`, peerKey(item.Peer), item.ID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var tracks []envelope.Document
	for rows.Next() {
		var metadata string
		if err := rows.Scan(&metadata); err != nil {
			return nil, errors.WithStack(err)
		}
		track, err := envelope.ParseDocument([]byte(metadata))
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, track)
	}
	return tracks, errors.WithStack(rows.Err())
}

// SaveStreamingNetworkTrack keeps the audio streamed from peer until the next track of
// the same peer replaces it.
func (l *Library) SaveStreamingNetworkTrack(ctx context.Context, track libshare.Track, data []byte) error {
	peer := peerKey(track.Peer)
	file := filepath.Join(streamsDir, peer+"-"+strconv.FormatInt(track.ID, 10))

	var (
		previous string
		written  bool
	)
	err := l.tx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, "SELECT file FROM streams WHERE peer = ?", peer).Scan(&previous)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return errors.WithStack(err)
		}

		if err := l.writeFile(file, data); err != nil {
			return err
		}
		written = true

		if _, err := tx.ExecContext(ctx, "DELETE FROM streams WHERE peer = ?", peer); err != nil {
			return errors.WithStack(err)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO streams (peer, track_id, file, updated_at) VALUES (?, ?, ?, ?)",
			peer, track.ID, file, l.now().Unix())
		return errors.WithStack(err)
	})
	if err != nil {
		// The file of the same track is rewritten in place and still referenced.
		if written && previous != file {
			_ = l.removeFile(file)
		}
		return err
	}

	if previous == "" || previous == file {
		return nil
	}
	return l.removeFile(previous)
}

// CreateFileForNetworkTrack adds the track downloaded from peer to the local library.
func (l *Library) CreateFileForNetworkTrack(
	ctx context.Context,
	track libshare.Track,
	data []byte,
	metadata envelope.Document,
) error {
	var info TrackInfo
	if err := metadata.Unmarshal(&info); err != nil {
		return errors.Wrap(err, "invalid track metadata")
	}
	if info.Title == "" {
		info.Title = track.Title
	}

	_, err := l.AddTrack(ctx, info, data)
	return err
}
