package domain

import (
	"encoding/json"
	"fmt"
)

const (
	LoadTrack    = "track"
	LoadPlaylist = "playlist"
	LoadSearch   = "search"
	LoadEmpty    = "empty"
	LoadError    = "error"
)

// LoadResult is the answer of a track lookup. Data depends on LoadType.
type LoadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

// Tracks flattens the result into playable tracks.
func (r LoadResult) Tracks() ([]Track, error) {
	switch r.LoadType {
	case LoadTrack:
		var t Track
		if err := json.Unmarshal(r.Data, &t); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		return []Track{t}, nil
	case LoadSearch:
		var ts []Track
		if err := json.Unmarshal(r.Data, &ts); err != nil {
			return nil, fmt.Errorf("decode search: %w", err)
		}
		return ts, nil
	case LoadPlaylist:
		var pl struct {
			Tracks []Track `json:"tracks"`
		}
		if err := json.Unmarshal(r.Data, &pl); err != nil {
			return nil, fmt.Errorf("decode playlist: %w", err)
		}
		return pl.Tracks, nil
	case LoadEmpty:
		return nil, nil
	case LoadError:
		var ex TrackException
		_ = json.Unmarshal(r.Data, &ex)
		return nil, fmt.Errorf("load failed: %s", ex.Message)
	default:
		return nil, fmt.Errorf("unknown load type %q", r.LoadType)
	}
}
