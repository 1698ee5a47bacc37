package syncserver

import "encoding/json"

// Op is one element-level CRDT edit carried inside a binary sync-protocol
// frame. The wire protocol this package speaks is intentionally simple —
// a JSON-encoded batch of ops framed as a binary WebSocket message — in
// place of a real CRDT library's own binary sync steps; the document
// underneath (pkg/crdtdoc) is abstract per spec §1, so the wire format is
// ours to define.
type Op struct {
	Tag       string `json:"tag"`
	ElementID string `json:"elementId"`
	Value     any    `json:"value,omitempty"`
	Delete    bool   `json:"delete,omitempty"`
}

// opFrame is the batch wrapper sent in every binary frame.
type opFrame struct {
	Ops []Op `json:"ops"`
}

// encodeOps serializes a batch of ops into a binary frame payload.
func encodeOps(ops []Op) ([]byte, error) {
	return json.Marshal(opFrame{Ops: ops})
}

// decodeOps parses a binary frame payload into its ops batch.
func decodeOps(data []byte) ([]Op, error) {
	var frame opFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}
	return frame.Ops, nil
}
