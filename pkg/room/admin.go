package room

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/types"
)

// InspectResult is the admin inspect endpoint's payload (§4.7): the
// room's bookkeeping plus a reconstructed `play` view loaded directly
// from the Persistence Store, never from the live in-memory handle, so
// the inspection can never be fooled by in-memory drift.
type InspectResult struct {
	RoomID      string                          `json:"roomId"`
	Found       bool                            `json:"found"`
	Play        map[string]map[string]any       `json:"play,omitempty"`
	Subscribers []*types.Subscriber             `json:"subscribers"`
	SharedRefs  []*types.SharedRefEntry         `json:"sharedRefs"`
	Permissions types.SharedPermissions         `json:"sharedPermissions"`
	ResetEpoch  int64                           `json:"resetEpoch"`
	Connections int                             `json:"connections"`
}

// Inspect implements the admin "inspect" endpoint.
func (r *Room) Inspect() (InspectResult, error) {
	out := InspectResult{RoomID: r.id, Connections: r.ConnCount()}

	subs, err := r.store.ListSubscribers(r.id)
	if err != nil {
		return out, fmt.Errorf("room %s: list subscribers: %w", r.id, err)
	}
	out.Subscribers = subs

	refs, err := r.store.ListSharedRefs(r.id)
	if err != nil {
		return out, fmt.Errorf("room %s: list shared refs: %w", r.id, err)
	}
	out.SharedRefs = refs

	perms, err := r.store.GetSharedPermissions(r.id)
	if err != nil {
		return out, fmt.Errorf("room %s: get permissions: %w", r.id, err)
	}
	out.Permissions = perms

	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		return out, fmt.Errorf("room %s: get room meta: %w", r.id, err)
	}
	out.ResetEpoch = meta.ResetEpoch

	view, found, err := r.loadStoredView()
	if err != nil {
		return out, err
	}
	out.Found = found
	out.Play = view
	return out, nil
}

// RawDataResult is the admin "raw-data" endpoint's payload: the raw
// base64 blob exactly as stored, plus its metadata.
type RawDataResult struct {
	RoomID     string `json:"roomId"`
	Found      bool   `json:"found"`
	Blob       string `json:"blob,omitempty"`
	ResetEpoch int64  `json:"resetEpoch"`
}

// RawData implements the admin "raw-data" endpoint.
func (r *Room) RawData() (RawDataResult, error) {
	blob, ok, err := r.store.Load(r.id)
	if err != nil {
		return RawDataResult{}, fmt.Errorf("room %s: load: %w", r.id, err)
	}
	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		return RawDataResult{}, fmt.Errorf("room %s: get room meta: %w", r.id, err)
	}
	return RawDataResult{RoomID: r.id, Found: ok, Blob: blob, ResetEpoch: meta.ResetEpoch}, nil
}

// LiveCompareResult is the admin "live-compare" diagnostic: it
// reconstructs `play` via both the direct-load path and the live
// in-memory handle and reports whether they agree.
type LiveCompareResult struct {
	RoomID        string   `json:"roomId"`
	Equal         bool     `json:"equal"`
	OnlyInStored  []string `json:"onlyInStored,omitempty"`
	OnlyInLive    []string `json:"onlyInLive,omitempty"`
}

// LiveCompare implements the admin "live-compare" endpoint.
func (r *Room) LiveCompare() (LiveCompareResult, error) {
	stored, _, err := r.loadStoredView()
	if err != nil {
		return LiveCompareResult{}, err
	}
	live := r.doc.View()

	storedKeys := tagKeySet(stored)
	liveKeys := tagKeySet(live)

	result := LiveCompareResult{RoomID: r.id}
	for k := range storedKeys {
		if _, ok := liveKeys[k]; !ok {
			result.OnlyInStored = append(result.OnlyInStored, k)
		}
	}
	for k := range liveKeys {
		if _, ok := storedKeys[k]; !ok {
			result.OnlyInLive = append(result.OnlyInLive, k)
		}
	}
	result.Equal = len(result.OnlyInStored) == 0 && len(result.OnlyInLive) == 0 && viewsEqual(stored, live)
	return result, nil
}

func tagKeySet(view map[string]map[string]any) map[string]struct{} {
	out := make(map[string]struct{})
	for tag, elements := range view {
		for elementID := range elements {
			out[tag+"/"+elementID] = struct{}{}
		}
	}
	return out
}

func viewsEqual(a, b map[string]map[string]any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}

// loadStoredView loads the persisted blob (not the live doc) and returns
// its `play` view, without mutating the room's live state.
func (r *Room) loadStoredView() (map[string]map[string]any, bool, error) {
	blob, ok, err := r.store.Load(r.id)
	if err != nil {
		return nil, false, fmt.Errorf("room %s: load: %w", r.id, err)
	}
	if !ok {
		return nil, false, nil
	}
	data, err := decodeBlob(blob)
	if err != nil {
		return nil, false, fmt.Errorf("room %s: decode stored blob: %w", r.id, err)
	}
	scratch := crdtdoc.New()
	if err := scratch.Load(data); err != nil {
		return nil, false, fmt.Errorf("room %s: apply stored snapshot: %w", r.id, err)
	}
	return scratch.View(), true, nil
}

// RemoveSubscriber implements the admin "remove-subscriber" endpoint.
func (r *Room) RemoveSubscriber(consumerRoomID string) (bool, error) {
	return r.store.RemoveSubscriber(r.id, consumerRoomID)
}

// HardReset implements §4.7's hard-reset: atomically replace the CRDT
// with a history-free copy of its current logical state, bump the reset
// epoch, persist, and disconnect every client so it reloads at the new
// generation.
func (r *Room) HardReset(now time.Time) (int64, error) {
	r.skipSave.Store(true)
	defer func() {
		go func() {
			time.Sleep(settleDelay)
			r.skipSave.Store(false)
		}()
	}()

	play := r.doc.View()
	newEpoch := now.UnixMilli()

	scratch := crdtdoc.New()
	scratch.Replace(play, newEpoch)
	blob, err := scratch.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("room %s: snapshot reset state: %w", r.id, err)
	}
	if err := r.store.Upsert(r.id, encodeBlob(blob)); err != nil {
		return 0, fmt.Errorf("room %s: persist reset state: %w", r.id, err)
	}
	if err := r.store.SetResetEpoch(r.id, newEpoch); err != nil {
		return 0, fmt.Errorf("room %s: set reset epoch: %w", r.id, err)
	}

	r.doc.Replace(play, newEpoch)
	r.doc.MarkClean()

	r.broadcastReset(newEpoch)
	r.publishEvent(events.EventRoomReset, newEpoch)
	r.CloseAll(4000, "Room Reset by Admin")
	return newEpoch, nil
}

// RestoreRaw implements §4.7's restore-raw: the same atomic
// replace-and-disconnect pattern as HardReset, but the new state comes
// from an externally supplied base64 snapshot rather than the room's own
// current state. If bumpEpoch is true, or the snapshot carries no usable
// epoch, the epoch is set to now; otherwise the snapshot's own resetEpoch
// is adopted.
func (r *Room) RestoreRaw(base64Snapshot string, bumpEpoch bool, now time.Time) (int64, error) {
	data, err := base64.StdEncoding.DecodeString(base64Snapshot)
	if err != nil {
		return 0, fmt.Errorf("room %s: decode restore snapshot: %w", r.id, err)
	}

	scratch := crdtdoc.New()
	if err := scratch.Load(data); err != nil {
		return 0, fmt.Errorf("room %s: apply restore snapshot: %w", r.id, err)
	}

	newEpoch := scratch.ResetEpoch()
	if bumpEpoch || newEpoch == 0 {
		newEpoch = now.UnixMilli()
	}

	r.skipSave.Store(true)
	defer func() {
		go func() {
			time.Sleep(settleDelay)
			r.skipSave.Store(false)
		}()
	}()

	play := scratch.View()
	rebuilt := crdtdoc.New()
	rebuilt.Replace(play, newEpoch)
	blob, err := rebuilt.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("room %s: snapshot restore state: %w", r.id, err)
	}
	if err := r.store.Upsert(r.id, encodeBlob(blob)); err != nil {
		return 0, fmt.Errorf("room %s: persist restore state: %w", r.id, err)
	}
	if err := r.store.SetResetEpoch(r.id, newEpoch); err != nil {
		return 0, fmt.Errorf("room %s: set reset epoch: %w", r.id, err)
	}

	r.doc.Replace(play, newEpoch)
	r.doc.MarkClean()

	r.broadcastReset(newEpoch)
	r.publishEvent(events.EventRoomRestored, newEpoch)
	r.CloseAll(4000, "Room Restored by Admin")
	return newEpoch, nil
}

func (r *Room) publishEvent(eventType events.EventType, resetEpoch int64) {
	if r.events == nil {
		return
	}
	r.events.Publish(&events.Event{
		Type:    eventType,
		RoomID:  r.id,
		Message: string(eventType),
		Payload: map[string]any{"resetEpoch": resetEpoch},
	})
}

// resetBroadcast is the server->client control frame sent on both
// room-reset and room-restore, per §6.
type resetBroadcast struct {
	Type       string `json:"type"`
	Timestamp  int64  `json:"timestamp"`
	ResetEpoch int64  `json:"resetEpoch"`
}

func (r *Room) broadcastReset(newEpoch int64) {
	msg := resetBroadcast{Type: "room-reset", Timestamp: time.Now().UnixMilli(), ResetEpoch: newEpoch}
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to encode room-reset broadcast")
		return
	}
	r.BroadcastText(data, nil)
}
