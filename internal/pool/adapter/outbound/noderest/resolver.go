package noderest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/anthanhphan/go-audio-node-pool/internal/pool/domain"
	"github.com/anthanhphan/go-audio-node-pool/internal/pool/port"
)

var ErrNoMatches = errors.New("no matching track")

// NodePicker returns the node a lookup should go to.
type NodePicker func() (domain.NodeDescriptor, bool)

// TrackResolver looks unresolved tracks up through the node's loadtracks
// endpoint and keeps the first match.
type TrackResolver struct {
	control port.ControlPlane
	pick    NodePicker
}

var _ port.TrackResolver = (*TrackResolver)(nil)

func NewTrackResolver(control port.ControlPlane, pick NodePicker) *TrackResolver {
	return &TrackResolver{control: control, pick: pick}
}

type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type playlistData struct {
	Tracks []domain.Track `json:"tracks"`
}

type exceptionData struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (r *TrackResolver) Resolve(ctx context.Context, track domain.Track) (domain.Track, error) {
	query := track.Query()
	if query == "" {
		return domain.Track{}, fmt.Errorf("resolve: empty query: %w", ErrNoMatches)
	}

	node, ok := r.pick()
	if !ok {
		return domain.Track{}, domain.ErrNoNodesAvailable
	}

	var res loadResult
	path := "/v4/loadtracks?identifier=" + url.QueryEscape(query)
	if err := r.control.Request(ctx, node, http.MethodGet, path, nil, &res); err != nil {
		return domain.Track{}, fmt.Errorf("resolve %q: %w", query, err)
	}

	tracks, err := res.tracks()
	if err != nil {
		return domain.Track{}, fmt.Errorf("resolve %q: %w", query, err)
	}
	if len(tracks) == 0 {
		return domain.Track{}, fmt.Errorf("resolve %q: %w", query, ErrNoMatches)
	}

	found := tracks[0]
	found.Requester = track.Requester
	return found, nil
}

func (l loadResult) tracks() ([]domain.Track, error) {
	switch l.LoadType {
	case "track":
		var t domain.Track
		if err := json.Unmarshal(l.Data, &t); err != nil {
			return nil, err
		}
		return []domain.Track{t}, nil
	case "search":
		var ts []domain.Track
		if err := json.Unmarshal(l.Data, &ts); err != nil {
			return nil, err
		}
		return ts, nil
	case "playlist":
		var p playlistData
		if err := json.Unmarshal(l.Data, &p); err != nil {
			return nil, err
		}
		return p.Tracks, nil
	case "empty":
		return nil, nil
	case "error":
		var e exceptionData
		_ = json.Unmarshal(l.Data, &e)
		return nil, fmt.Errorf("load failed (%s): %s", e.Severity, e.Message)
	default:
		return nil, fmt.Errorf("unknown load type %q", l.LoadType)
	}
}
