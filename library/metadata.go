package library

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/libshare/envelope"
)

type column struct {
	Name    string
	Numeric bool
}

// trackFields maps fields peers may request to the columns of tracks table.
var trackFields = map[string]column{
	"id":           {Name: "id", Numeric: true},
	"title":        {Name: "title"},
	"artist":       {Name: "artist"},
	"album":        {Name: "album"},
	"genre":        {Name: "genre"},
	"track_number": {Name: "track_number", Numeric: true},
	"duration":     {Name: "duration", Numeric: true},
}

// GetSourceList returns the playlists of the library.
func (l *Library) GetSourceList(ctx context.Context) ([]envelope.Document, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT p.id, p.name, COUNT(pt.track_id)
		FROM playlists p
		LEFT JOIN playlist_tracks pt ON pt.playlist_id = p.id
		GROUP BY p.id, p.name
		ORDER BY p.id`)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var list []envelope.Document
	for rows.Next() {
		var (
			id, count int64
			name      string
		)
		if err := rows.Scan(&id, &name, &count); err != nil {
			return nil, errors.WithStack(err)
		}
		doc, err := envelope.NewDocument(map[string]any{
			"id":    id,
			"name":  name,
			"type":  "playlist",
			"count": count,
		})
		if err != nil {
			return nil, err
		}
		list = append(list, doc)
	}
	return list, errors.WithStack(rows.Err())
}

// GetPlaylist returns the playlist. Each track carries only the requested fields,
// unknown fields are skipped.
func (l *Library) GetPlaylist(ctx context.Context, id int64, fields []string) (envelope.Document, error) {
	var name string
	if err := l.db.QueryRowContext(ctx, "SELECT name FROM playlists WHERE id = ?", id).Scan(&name); err != nil {
		return nil, notFound(err, "playlist %d", id)
	}

	requested := make([]string, 0, len(fields))
	columns := make([]column, 0, len(fields))
	seen := map[string]bool{}
	for _, f := range fields {
		c, exists := trackFields[f]
		if !exists || seen[f] {
			continue
		}
		seen[f] = true
		requested = append(requested, f)
		columns = append(columns, c)
	}

	tracks := []map[string]any{}
	if len(columns) == 0 {
		var count int
		if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?",
			id).Scan(&count); err != nil {
			return nil, errors.WithStack(err)
		}
		for range count {
			tracks = append(tracks, map[string]any{})
		}
		return envelope.NewDocument(map[string]any{"tracks": tracks})
	}

	names := make([]string, 0, len(columns))
	for _, c := range columns {
		names = append(names, "t."+c.Name)
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+strings.Join(names, ", ")+`
		FROM playlist_tracks pt
		JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position`, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	for rows.Next() {
		values := make([]any, len(columns))
		for i, c := range columns {
			if c.Numeric {
				values[i] = new(int64)
			} else {
				values[i] = new(string)
			}
		}
		if err := rows.Scan(values...); err != nil {
			return nil, errors.WithStack(err)
		}

		track := make(map[string]any, len(columns))
		for i, f := range requested {
			switch v := values[i].(type) {
			case *int64:
				track[f] = *v
			case *string:
				track[f] = *v
			}
		}
		tracks = append(tracks, track)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WithStack(err)
	}

	return envelope.NewDocument(map[string]any{"tracks": tracks})
}

// GetSong returns the audio of the track.
func (l *Library) GetSong(ctx context.Context, id int64) ([]byte, error) {
	var file string
	if err := l.db.QueryRowContext(ctx, "SELECT file FROM tracks WHERE id = ?", id).Scan(&file); err != nil {
		return nil, notFound(err, "track %d", id)
	}
	return l.readFile(file)
}

// GetAllMetadataForTrack returns all the metadata of the track.
func (l *Library) GetAllMetadataForTrack(ctx context.Context, id int64) (envelope.Document, error) {
	info, err := l.Track(ctx, id)
	if err != nil {
		return nil, err
	}
	return envelope.NewDocument(info)
}

// Track returns the metadata of the track.
func (l *Library) Track(ctx context.Context, id int64) (TrackInfo, error) {
	var info TrackInfo
	err := l.db.QueryRowContext(ctx, `
		SELECT title, artist, album, genre, track_number, duration
		FROM tracks
		WHERE id = ?`, id).Scan(&info.Title, &info.Artist, &info.Album, &info.Genre, &info.TrackNumber,
		&info.Duration)
	if err != nil {
		return TrackInfo{}, notFound(err, "track %d", id)
	}
	return info, nil
}
