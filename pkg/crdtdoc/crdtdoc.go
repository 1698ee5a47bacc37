package crdtdoc

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// LamportClock is a per-document logical clock: every mutation ticks it, and
// every observed remote version advances it past whatever it has seen, the
// same scheme an operation-log CRDT uses to order concurrent edits without a
// wall clock.
type LamportClock struct {
	mu      sync.Mutex
	counter int64
}

// Tick advances and returns the next clock value.
func (c *LamportClock) Tick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return c.counter
}

// Observe advances the clock past a remote value seen in an incoming
// update, per the standard Lamport clock merge rule.
func (c *LamportClock) Observe(remote int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if remote > c.counter {
		c.counter = remote
	}
}

// Get returns the current value without advancing it.
func (c *LamportClock) Get() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// cell is one entry of play[tag][elementId]: the value plus enough metadata
// to resolve concurrent writes last-write-wins, comparing Version then
// Origin as a tiebreaker exactly as the reference conflict resolver does.
type cell struct {
	Value   any    `json:"value"`
	Version int64  `json:"version"`
	Origin  string `json:"origin"`
}

// snapshot is the full serializable state of a Doc.
type snapshot struct {
	Play       map[string]map[string]cell `json:"play"`
	ResetEpoch int64                       `json:"resetEpoch"`
	Clock      int64                       `json:"clock"`
}

// Update describes one committed transaction, consumed by bridge observers
// to decide whether and how to mirror a change into other rooms. Origin
// lets an observer recognize and ignore updates it caused itself, which is
// the mechanism that prevents mirror ping-pong between two rooms.
type Update struct {
	Origin     string
	Tags       []string
	ElementIDs map[string][]string // tag -> elementIds touched
	At         time.Time
}

// Doc is one room's live CRDT document: a map of maps, `play[tag][elementId]
// -> value`, with per-cell LWW versioning and a resetEpoch used to order
// reset operations against concurrent autosaves and bridge messages.
type Doc struct {
	mu    sync.Mutex
	play  map[string]map[string]cell
	epoch int64
	clock *LamportClock
	dirty bool

	subMu sync.RWMutex
	subs  map[chan Update]struct{}
}

// New returns an empty Doc.
func New() *Doc {
	return &Doc{
		play:  make(map[string]map[string]cell),
		clock: &LamportClock{},
		subs:  make(map[chan Update]struct{}),
	}
}

// Subscribe returns a channel of committed Updates. Delivery is
// non-blocking: a full subscriber buffer drops the update rather than
// stalling the transaction that produced it.
func (d *Doc) Subscribe() chan Update {
	ch := make(chan Update, 32)
	d.subMu.Lock()
	d.subs[ch] = struct{}{}
	d.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe.
func (d *Doc) Unsubscribe(ch chan Update) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	if _, ok := d.subs[ch]; ok {
		delete(d.subs, ch)
		close(ch)
	}
}

func (d *Doc) publish(u Update) {
	d.subMu.RLock()
	defer d.subMu.RUnlock()
	for ch := range d.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// Txn is the mutation surface handed to a Transact callback.
type Txn struct {
	doc     *Doc
	version int64
	origin  string
	touched map[string][]string
}

// Set writes play[tag][elementId] = value.
func (t *Txn) Set(tag, elementID string, value any) {
	if t.doc.play[tag] == nil {
		t.doc.play[tag] = make(map[string]cell)
	}
	t.doc.play[tag][elementID] = cell{Value: value, Version: t.version, Origin: t.origin}
	t.touched[tag] = append(t.touched[tag], elementID)
}

// Delete removes play[tag][elementId] if present.
func (t *Txn) Delete(tag, elementID string) {
	if m, ok := t.doc.play[tag]; ok {
		delete(m, elementID)
	}
	t.touched[tag] = append(t.touched[tag], elementID)
}

// Get reads the current value at play[tag][elementId], if any.
func (t *Txn) Get(tag, elementID string) (any, bool) {
	m, ok := t.doc.play[tag]
	if !ok {
		return nil, false
	}
	c, ok := m[elementID]
	return c.Value, ok
}

// Transact runs fn under the document's lock, tagging every write it makes
// with origin and the next Lamport tick, then publishes an Update to
// subscribers after the mutation commits — never before, so observers never
// see a half-applied transaction.
func (d *Doc) Transact(origin string, fn func(t *Txn)) Update {
	d.mu.Lock()
	version := d.clock.Tick()
	txn := &Txn{doc: d, version: version, origin: origin, touched: make(map[string][]string)}
	fn(txn)
	d.dirty = true
	d.mu.Unlock()

	tags := make([]string, 0, len(txn.touched))
	for tag := range txn.touched {
		tags = append(tags, tag)
	}
	update := Update{Origin: origin, Tags: tags, ElementIDs: txn.touched, At: time.Now()}
	d.publish(update)
	return update
}

// View returns a copy of the `play` map for JSON serialization, bridge
// subtree extraction, or admin inspection. The tag and element maps are
// fresh; the values themselves are shared with the document, not cloned.
func (d *Doc) View() map[string]map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]map[string]any, len(d.play))
	for tag, elements := range d.play {
		inner := make(map[string]any, len(elements))
		for elementID, c := range elements {
			inner[elementID] = c.Value
		}
		out[tag] = inner
	}
	return out
}

// ResetEpoch returns the document's in-memory reset epoch.
func (d *Doc) ResetEpoch() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.epoch
}

// SetResetEpoch stamps a new reset epoch into the document's metadata.
func (d *Doc) SetResetEpoch(epoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch = epoch
}

// Dirty reports whether the document has unsaved changes.
func (d *Doc) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty
}

// MarkClean clears the dirty flag, called after a successful autosave.
func (d *Doc) MarkClean() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty = false
}

// Snapshot serializes the document's full binary state (play, versions,
// clock, resetEpoch) for storage in the Persistence Store.
func (d *Doc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := snapshot{Play: d.play, ResetEpoch: d.epoch, Clock: d.clock.Get()}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("crdtdoc: marshal snapshot: %w", err)
	}
	return data, nil
}

// Load replaces the document's state with a previously serialized
// snapshot. Used on first connection, by the admin inspect/live-compare
// stored-view path, and by restore-raw.
func (d *Doc) Load(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("crdtdoc: unmarshal snapshot: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if snap.Play == nil {
		snap.Play = make(map[string]map[string]cell)
	}
	d.play = snap.Play
	d.epoch = snap.ResetEpoch
	d.clock.Observe(snap.Clock)
	return nil
}

// Merge folds a loaded snapshot into the live document cell-by-cell,
// keeping whichever side has the higher (Version, Origin) pair — the same
// last-write-wins comparison the reference conflict resolver uses. Used by
// force-reload-live, where the live doc may have edits the stored snapshot
// predates.
func (d *Doc) Merge(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("crdtdoc: unmarshal snapshot: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for tag, elements := range snap.Play {
		if d.play[tag] == nil {
			d.play[tag] = make(map[string]cell)
		}
		for elementID, incoming := range elements {
			current, exists := d.play[tag][elementID]
			if !exists || wins(incoming, current) {
				d.play[tag][elementID] = incoming
			}
		}
	}
	d.clock.Observe(snap.Clock)
	d.dirty = true
	return nil
}

// wins reports whether a beats b under last-write-wins: higher Version
// wins, Origin breaks exact ties.
func wins(a, b cell) bool {
	if a.Version != b.Version {
		return a.Version > b.Version
	}
	return a.Origin > b.Origin
}

// Replace atomically rebuilds the document from a plain `play` JSON view
// with a fresh Lamport clock and no per-cell history, per the hard-reset
// and restore-raw admin operations: every surviving value is re-stamped at
// version 1 of the fresh clock with origin "reset", and the prior cells and
// their versions are discarded.
func (d *Doc) Replace(play map[string]map[string]any, newEpoch int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clock = &LamportClock{}
	version := d.clock.Tick()
	rebuilt := make(map[string]map[string]cell, len(play))
	for tag, elements := range play {
		inner := make(map[string]cell, len(elements))
		for elementID, value := range elements {
			inner[elementID] = cell{Value: value, Version: version, Origin: "reset"}
		}
		rebuilt[tag] = inner
	}
	d.play = rebuilt
	d.epoch = newEpoch
	d.dirty = true
}
