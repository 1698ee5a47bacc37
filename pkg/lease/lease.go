package lease

import (
	"fmt"
	"sync"
	"time"

	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/log"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/storage"
	"github.com/playhtml/playroom/pkg/types"
	"github.com/rs/zerolog"
)

// Manager arms a per-room prune alarm while the room has subscribers or
// shared references, and removes entries whose lease has lapsed when the
// alarm fires. Scheduling is monotone: a room's alarm is only moved
// earlier, never later, mirroring the reconciliation-loop pattern but
// keyed per room instead of running a single global ticker.
type Manager struct {
	store         storage.RoomStore
	logger        zerolog.Logger
	pruneInterval time.Duration
	leaseMs       int64
	broker        *events.Broker

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a lease manager backed by store. A zero pruneInterval
// or leaseMs falls back to the package defaults in pkg/types. broker may
// be nil, in which case prune events are simply not published.
func NewManager(store storage.RoomStore, pruneInterval time.Duration, leaseMs int64, broker *events.Broker) *Manager {
	if pruneInterval <= 0 {
		pruneInterval = types.DefaultPruneInterval
	}
	if leaseMs <= 0 {
		leaseMs = types.DefaultLeaseMs
	}
	return &Manager{
		store:         store,
		logger:        log.WithComponent("lease"),
		pruneInterval: pruneInterval,
		leaseMs:       leaseMs,
		broker:        broker,
		timers:        make(map[string]*time.Timer),
	}
}

// EnsureScheduled arms roomID's prune alarm if subscribers or refs exist
// and no earlier alarm is already armed.
func (m *Manager) EnsureScheduled(roomID string) error {
	hasWork, err := m.hasSubscribersOrRefs(roomID)
	if err != nil {
		return err
	}
	if !hasWork {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, armed := m.timers[roomID]; armed {
		return nil
	}

	meta, err := m.store.GetRoomMeta(roomID)
	if err != nil {
		return err
	}
	now := time.Now()
	fireAt := now.Add(m.pruneInterval)
	if meta.AlarmAt != nil && !meta.AlarmAt.After(now) {
		// A past alarm time that never fired (e.g. after a restart) fires
		// immediately rather than waiting another full interval.
		fireAt = now
	} else if meta.AlarmAt != nil && meta.AlarmAt.Before(fireAt) {
		fireAt = *meta.AlarmAt
	}

	m.arm(roomID, fireAt)
	return m.store.SetAlarmAt(roomID, &fireAt)
}

// Cancel disarms roomID's alarm without touching storage; used when a room
// is unloaded from memory.
func (m *Manager) Cancel(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[roomID]; ok {
		t.Stop()
		delete(m.timers, roomID)
	}
}

func (m *Manager) arm(roomID string, fireAt time.Time) {
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	m.timers[roomID] = time.AfterFunc(delay, func() { m.fire(roomID) })
}

func (m *Manager) fire(roomID string) {
	m.mu.Lock()
	delete(m.timers, roomID)
	m.mu.Unlock()

	roomLog := log.WithRoomID(roomID)

	prunedSubs, err := m.pruneSubscribers(roomID)
	if err != nil {
		roomLog.Error().Err(err).Msg("failed to prune subscribers")
	}
	prunedRefs, err := m.pruneSharedRefs(roomID)
	if err != nil {
		roomLog.Error().Err(err).Msg("failed to prune shared refs")
	}
	if prunedSubs > 0 {
		metrics.AlarmPrunesTotal.WithLabelValues("subscriber").Add(float64(prunedSubs))
		m.publish(roomID, events.EventSubscriberPruned, prunedSubs)
	}
	if prunedRefs > 0 {
		metrics.AlarmPrunesTotal.WithLabelValues("shared_ref").Add(float64(prunedRefs))
		m.publish(roomID, events.EventSharedRefPruned, prunedRefs)
	}

	// The alarm that just fired is spent: clear it so EnsureScheduled arms
	// the next one a full pruneInterval out instead of treating the past
	// time as an overdue alarm.
	if err := m.store.SetAlarmAt(roomID, nil); err != nil {
		roomLog.Error().Err(err).Msg("failed to clear fired prune alarm")
	}

	if err := m.EnsureScheduled(roomID); err != nil {
		roomLog.Error().Err(err).Msg("failed to reschedule prune alarm")
		return
	}

	hasWork, err := m.hasSubscribersOrRefs(roomID)
	if err == nil && !hasWork {
		_ = m.store.SetAlarmAt(roomID, nil)
	}
}

func (m *Manager) publish(roomID string, eventType events.EventType, pruned int) {
	if m.broker == nil {
		return
	}
	m.broker.Publish(&events.Event{
		Type:     eventType,
		RoomID:   roomID,
		Message:  "lease alarm pruned stale entries",
		Metadata: map[string]string{"pruned": fmt.Sprintf("%d", pruned)},
	})
}

func (m *Manager) pruneSubscribers(roomID string) (int, error) {
	now := time.Now()
	subs, err := m.store.ListSubscribers(roomID)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, sub := range subs {
		if sub.Expired(now) {
			if _, err := m.store.RemoveSubscriber(roomID, sub.ConsumerRoomID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func (m *Manager) pruneSharedRefs(roomID string) (int, error) {
	now := time.Now()
	refs, err := m.store.ListSharedRefs(roomID)
	if err != nil {
		return 0, err
	}
	pruned := 0
	for _, ref := range refs {
		if ref.Expired(now, m.leaseMs) {
			if _, err := m.store.RemoveSharedRef(roomID, ref.SourceRoomID); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}

func (m *Manager) hasSubscribersOrRefs(roomID string) (bool, error) {
	subs, err := m.store.ListSubscribers(roomID)
	if err != nil {
		return false, err
	}
	if len(subs) > 0 {
		return true, nil
	}
	refs, err := m.store.ListSharedRefs(roomID)
	if err != nil {
		return false, err
	}
	return len(refs) > 0, nil
}
