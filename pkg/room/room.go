package room

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/rs/zerolog"
)

// encodeBlob/decodeBlob implement the "binary CRDT snapshot (base64
// blob)" storage format from §4.2: the Persistence Store always holds a
// base64 string, regardless of what the CRDT document serializes to.
func encodeBlob(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func decodeBlob(blob string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(blob)
}

// autosaveInterval is how often a dirty room's doc is serialized to the
// Persistence Store, matching the "every few seconds" cadence in §4.3.
const autosaveInterval = 5 * time.Second

// settleDelay is how long hard-reset/restore-raw hold skipSave after the
// new state is durable, giving any autosave tick already in flight time
// to observe the latch before it releases.
const settleDelay = 250 * time.Millisecond

// Room owns one room's live CRDT document, its connection set, and its
// bridge observer loops. All mutation of the document and the
// room-scoped storage entries happens through Room's methods, which is
// what makes the room a single-writer actor per §5.
type Room struct {
	id     string
	doc    *crdtdoc.Doc
	store  storage.Store
	party  bridge.Party
	leaseM *lease.Manager
	events *events.Broker
	logger zerolog.Logger

	skipSave atomic.Bool

	connsMu sync.Mutex
	conns   map[Conn]struct{}

	observersOnce sync.Once
	stopObservers chan struct{}

	stopAutosave chan struct{}
}

// New constructs a Room and loads its CRDT document from store. party is
// the dispatcher used to reach other rooms for bridge RPCs; leaseM is the
// shared lease manager keyed by room ID. broker may be nil.
func New(id string, store storage.Store, party bridge.Party, leaseM *lease.Manager, broker *events.Broker) (*Room, error) {
	r := &Room{
		id:            id,
		doc:           crdtdoc.New(),
		store:         store,
		party:         party,
		leaseM:        leaseM,
		events:        broker,
		logger:        log.WithRoomID(id),
		conns:         make(map[Conn]struct{}),
		stopObservers: make(chan struct{}),
		stopAutosave:  make(chan struct{}),
	}

	if err := r.load(); err != nil {
		return nil, err
	}

	metrics.RoomsActive.Inc()
	go r.autosaveLoop()
	return r, nil
}

// ID returns the room's canonical ID.
func (r *Room) ID() string { return r.id }

// Doc exposes the live CRDT document, used by the sync endpoint to relay
// client edits and by the admin plane for inspection.
func (r *Room) Doc() *crdtdoc.Doc { return r.doc }

// Store exposes the room's durable store, used by the sync endpoint and
// admin plane for subscriber/permission bookkeeping.
func (r *Room) Store() storage.Store { return r.store }

// load fetches the stored blob (if any) and applies it, per §4.3's "on
// first connection" contract. A missing blob is not an error: the room
// simply starts empty.
func (r *Room) load() error {
	blob, ok, err := r.store.Load(r.id)
	if err != nil {
		return fmt.Errorf("room %s: load: %w", r.id, err)
	}
	if !ok {
		return nil
	}
	data, err := decodeBlob(blob)
	if err != nil {
		return fmt.Errorf("room %s: decode stored blob: %w", r.id, err)
	}
	if err := r.doc.Load(data); err != nil {
		return fmt.Errorf("room %s: apply snapshot: %w", r.id, err)
	}
	return nil
}

// EnsureObservers starts the bridge source/consumer observer loops the
// first time it is called for this room's lifetime; subsequent calls are
// no-ops, matching §4.4 step 8 ("attach Bridge observers (once per room
// lifetime)").
func (r *Room) EnsureObservers(registry *Registry) {
	r.observersOnce.Do(func() {
		go r.sourceObserverLoop(registry)
		go r.consumerObserverLoop(registry)
	})
}

// Register adds a live sync connection to the room's broadcast set.
func (r *Room) Register(c Conn) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	r.conns[c] = struct{}{}
}

// Unregister removes a sync connection, e.g. on client disconnect.
func (r *Room) Unregister(c Conn) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	delete(r.conns, c)
}

// BroadcastText sends a text frame to every connection other than
// except, per §4.4's pass-through broadcast rule. except may be nil to
// address every connection.
func (r *Room) BroadcastText(data []byte, except Conn) {
	r.connsMu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		if c != except {
			conns = append(conns, c)
		}
	}
	r.connsMu.Unlock()

	for _, c := range conns {
		if err := c.SendText(data); err != nil {
			r.logger.Debug().Err(err).Msg("failed to send text frame")
		}
	}
}

// BroadcastBinary relays a CRDT sync protocol frame to every connection
// other than except.
func (r *Room) BroadcastBinary(data []byte, except Conn) {
	r.connsMu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		if c != except {
			conns = append(conns, c)
		}
	}
	r.connsMu.Unlock()

	for _, c := range conns {
		if err := c.SendBinary(data); err != nil {
			r.logger.Debug().Err(err).Msg("failed to send binary frame")
		}
	}
}

// CloseAll closes every live connection with code/reason, per the
// hard-reset and restore-raw admin operations (§4.7 steps 8).
func (r *Room) CloseAll(code int, reason string) {
	r.connsMu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[Conn]struct{})
	r.connsMu.Unlock()

	for _, c := range conns {
		_ = c.Close(code, reason)
	}
}

// FindConn returns the registered connection whose ID matches id, or nil
// if none is live. Used by the sync relay loop to identify (and
// exclude) the connection that caused a given update.
func (r *Room) FindConn(id string) Conn {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	for c := range r.conns {
		if c.ID() == id {
			return c
		}
	}
	return nil
}

// ConnCount reports the number of live sync connections, surfaced by the
// admin inspect endpoint.
func (r *Room) ConnCount() int {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	return len(r.conns)
}

// Transact runs fn as a CRDT transaction tagged with origin and returns
// the resulting Update.
func (r *Room) Transact(origin string, fn func(t *crdtdoc.Txn)) crdtdoc.Update {
	return r.doc.Transact(origin, fn)
}

// autosaveLoop implements §4.3's periodic autosave callback: skip while
// skipSave is held, skip on a stale generation, otherwise serialize and
// upsert.
func (r *Room) autosaveLoop() {
	ticker := time.NewTicker(autosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.autosaveTick()
		case <-r.stopAutosave:
			return
		}
	}
}

func (r *Room) autosaveTick() {
	if r.skipSave.Load() {
		metrics.AutosaveSkippedTotal.WithLabelValues("skip-save-latch").Inc()
		return
	}
	if !r.doc.Dirty() {
		return
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AutosaveDuration)

	docEpoch := r.doc.ResetEpoch()
	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("autosave: failed to read room meta")
		return
	}
	if docEpoch < meta.ResetEpoch {
		metrics.AutosaveSkippedTotal.WithLabelValues("stale-epoch").Inc()
		r.logger.Warn().Int64("doc_epoch", docEpoch).Int64("stored_epoch", meta.ResetEpoch).
			Msg("autosave: skipping save from stale generation")
		return
	}

	blob, err := r.doc.Snapshot()
	if err != nil {
		r.logger.Error().Err(err).Msg("autosave: failed to snapshot")
		return
	}
	if err := r.store.Upsert(r.id, encodeBlob(blob)); err != nil {
		r.logger.Error().Err(err).Msg("autosave: failed to persist snapshot")
		return
	}
	r.doc.MarkClean()
}

// ForceSave serializes the live document and persists it immediately,
// bypassing the autosave tick's dirty/epoch checks. Used by the admin
// force-save-live endpoint.
func (r *Room) ForceSave() error {
	blob, err := r.doc.Snapshot()
	if err != nil {
		return fmt.Errorf("room %s: snapshot: %w", r.id, err)
	}
	if err := r.store.Upsert(r.id, encodeBlob(blob)); err != nil {
		return fmt.Errorf("room %s: upsert: %w", r.id, err)
	}
	r.doc.MarkClean()
	return nil
}

// ForceReload merges the stored snapshot into the live document via
// last-write-wins, per the admin force-reload-live endpoint.
func (r *Room) ForceReload() error {
	blob, ok, err := r.store.Load(r.id)
	if err != nil {
		return fmt.Errorf("room %s: load: %w", r.id, err)
	}
	if !ok {
		return nil
	}
	data, err := decodeBlob(blob)
	if err != nil {
		return fmt.Errorf("room %s: decode stored blob: %w", r.id, err)
	}
	return r.doc.Merge(data)
}

// Close stops the room's background loops. Storage entries are left in
// place; only explicit admin reset destroys a room's data.
func (r *Room) Close(ctx context.Context) {
	close(r.stopAutosave)
	close(r.stopObservers)
	metrics.RoomsActive.Dec()
}
