package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/playhtml/playroom/pkg/types"
)

// Op names carried on Envelope.Op, one per bridge RPC in the room-to-room
// surface.
const (
	OpSubscribe         = "subscribe"
	OpExportPermissions = "export-permissions"
	OpApplySubtrees     = "apply-subtrees-immediate"
)

// Envelope is the discriminated request/response wrapper for every bridge
// RPC, the same Op+Data shape an FSM command log uses to route a single
// Apply entrypoint to many typed handlers.
type Envelope struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// SubscribeRequest subscribes the caller (a consumer room) to elements on
// the recipient (a source room).
type SubscribeRequest struct {
	ConsumerRoomID string   `json:"consumerRoomId"`
	ElementIDs     []string `json:"elementIds"`
}

// SubscribeResponse echoes the subscription that was recorded.
type SubscribeResponse struct {
	OK         bool     `json:"ok"`
	Subscribed bool     `json:"subscribed"`
	ElementIDs []string `json:"elementIds"`
}

// ExportPermissionsRequest asks a source room for the permissions it has
// granted on a subset of its elements.
type ExportPermissionsRequest struct {
	ElementIDs []string `json:"elementIds"`
}

// ExportPermissionsResponse returns the requested subset of
// sharedPermissions.
type ExportPermissionsResponse struct {
	Permissions types.SharedPermissions `json:"permissions"`
}

// ApplySubtreesRequest mirrors a subtree update into the recipient's live
// CRDT, filtered and origin-tagged according to the recipient's role
// relative to Sender.
type ApplySubtreesRequest struct {
	Subtrees   map[string]map[string]any `json:"subtrees"`
	Sender     string                    `json:"sender"`
	OriginKind string                    `json:"originKind"` // "consumer" | "source"
	ResetEpoch int64                     `json:"resetEpoch"`
}

// ApplySubtreesResponse acknowledges (or reports the drop of) an
// apply-subtrees-immediate request.
type ApplySubtreesResponse struct {
	OK      bool   `json:"ok"`
	Dropped string `json:"dropped,omitempty"` // reason, e.g. "stale-epoch"
}

// Party is the mailbox abstraction a bridge observer sends RPCs through:
// `party.get(roomId).fetch(req)` in the design's own words. An
// implementation may resolve to an in-process call when the target room is
// hosted locally, or an HTTP call otherwise — callers never need to know
// which.
type Party interface {
	Fetch(ctx context.Context, roomID string, env Envelope) (Envelope, error)
}

// Encode wraps a typed request as an Envelope.
func Encode(op string, v any) (Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: encode %s: %w", op, err)
	}
	return Envelope{Op: op, Data: data}, nil
}

// Decode unmarshals an Envelope's Data into v.
func Decode(env Envelope, v any) error {
	return json.Unmarshal(env.Data, v)
}

// HTTPParty implements Party by POSTing the bridge envelope to another
// coordinator instance's /room/{roomId} endpoint, for deployments where not
// every room is hosted by this process.
type HTTPParty struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPParty returns an HTTPParty using a client with a bounded timeout,
// matching the gRPC client wrapper's own context-with-timeout pattern.
func NewHTTPParty(baseURL string) *HTTPParty {
	return &HTTPParty{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Fetch POSTs env to the target room's bridge endpoint and decodes the JSON
// response back into an Envelope-shaped payload.
func (p *HTTPParty) Fetch(ctx context.Context, roomID string, env Envelope) (Envelope, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/room/%s", p.BaseURL, roomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Envelope{}, fmt.Errorf("bridge: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Envelope{}, fmt.Errorf("bridge: remote returned %d: %s", resp.StatusCode, string(respBody))
	}

	var out Envelope
	if err := json.Unmarshal(respBody, &out); err != nil {
		return Envelope{}, fmt.Errorf("bridge: decode response: %w", err)
	}
	return out, nil
}
