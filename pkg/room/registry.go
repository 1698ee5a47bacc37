package room

import (
	"context"
	"fmt"
	"sync"

	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/lease"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/normalize"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/rs/zerolog"
)

// Registry is the process-wide dispatcher: it lazily creates and caches
// one Room per canonical ID, follows redirects on every lookup, and
// implements bridge.Party so an observer loop's RPC to a room hosted in
// this same process never leaves it. Remote targets (not held locally)
// fall back to remote, an HTTPParty-shaped Party for multi-instance
// deployments.
type Registry struct {
	store  storage.Store
	leaseM *lease.Manager
	remote bridge.Party
	events *events.Broker
	logger zerolog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry constructs a Registry. remote is used for any room ID this
// process doesn't host locally; pass nil for a single-instance
// deployment where every room is local (Fetch then loads any room it is
// asked for in this process instead of calling out over HTTP). broker is started here and
// stopped by Shutdown; pass the same broker to lease.NewManager so
// prune notifications and room notifications share one bus.
func NewRegistry(store storage.Store, leaseM *lease.Manager, remote bridge.Party, broker *events.Broker) *Registry {
	if broker == nil {
		broker = events.NewBroker()
	}
	broker.Start()
	return &Registry{
		store:  store,
		leaseM: leaseM,
		remote: remote,
		events: broker,
		logger: log.WithComponent("room-registry"),
		rooms:  make(map[string]*Room),
	}
}

// Events returns the registry's shared event broker, for callers that
// want to observe room-level notifications (resets, prunes, bridge
// activity) without coupling to a specific Room.
func (reg *Registry) Events() *events.Broker {
	return reg.events
}

// Canonicalize resolves id through the redirect table and reports
// whether it is well-formed at all.
func (reg *Registry) Canonicalize(id string) (string, error) {
	if normalize.IsInvalidID(id) {
		return "", normalize.ErrInvalidID
	}
	return normalize.ResolveRedirect(reg.store, id)
}

// GetOrCreate returns the cached Room for the (already canonical) id,
// loading it from the Persistence Store on first access.
func (reg *Registry) GetOrCreate(id string) (*Room, error) {
	reg.mu.Lock()
	if r, ok := reg.rooms[id]; ok {
		reg.mu.Unlock()
		return r, nil
	}
	reg.mu.Unlock()

	r, err := New(id, reg.store, reg, reg.leaseM, reg.events)
	if err != nil {
		return nil, err
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if existing, ok := reg.rooms[id]; ok {
		// Another goroutine won the race to create this room; keep the
		// existing instance so there is exactly one live Doc per ID.
		r.Close(context.Background())
		return existing, nil
	}
	reg.rooms[id] = r
	return r, nil
}

// Peek returns the cached Room for id without creating one, or nil.
func (reg *Registry) Peek(id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rooms[id]
}

// Drop removes id from the registry and stops its background loops. The
// room's stored data is left in place.
func (reg *Registry) Drop(id string) {
	reg.mu.Lock()
	r, ok := reg.rooms[id]
	if ok {
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()
	if ok {
		r.Close(context.Background())
	}
}

// Shutdown force-saves and closes every currently loaded room, used by
// the server's graceful-shutdown path so no dirty room is lost between
// the last autosave tick and process exit.
func (reg *Registry) Shutdown(ctx context.Context) {
	reg.mu.Lock()
	rooms := make([]*Room, 0, len(reg.rooms))
	for id, r := range reg.rooms {
		rooms = append(rooms, r)
		delete(reg.rooms, id)
	}
	reg.mu.Unlock()

	for _, r := range rooms {
		if err := r.ForceSave(); err != nil {
			reg.logger.Error().Err(err).Str("room_id", r.ID()).Msg("failed to flush room on shutdown")
		}
		if reg.leaseM != nil {
			reg.leaseM.Cancel(r.ID())
		}
		r.Close(ctx)
	}
	reg.events.Stop()
}

// Fetch implements bridge.Party: a room hosted by this process answers
// in-process, without HTTP, via HandleEnvelope; everything else falls
// back to the remote Party, if configured.
func (reg *Registry) Fetch(ctx context.Context, roomID string, env bridge.Envelope) (bridge.Envelope, error) {
	canonical, err := reg.Canonicalize(roomID)
	if err != nil {
		return bridge.Envelope{}, fmt.Errorf("room-registry: canonicalize %s: %w", roomID, err)
	}

	if reg.Peek(canonical) == nil && reg.remote != nil {
		// Not hosted here: let the remote party decide (it may itself be
		// hosting it, or proxy onward in a multi-instance deployment).
		return reg.remote.Fetch(ctx, canonical, env)
	}

	target, err := reg.GetOrCreate(canonical)
	if err != nil {
		return bridge.Envelope{}, err
	}
	return target.HandleEnvelope(ctx, env)
}
