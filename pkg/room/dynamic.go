package room

import (
	"context"
	"fmt"
	"time"

	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/normalize"
	"github.com/playhtml/playroom/pkg/types"
)

// AddSharedReference implements the §4.5.5 "add-shared-reference"
// control message: merge the reference into this consumer room's
// sharedReferences storage and, if the source room is newly referenced,
// subscribe to it.
func (r *Room) AddSharedReference(ctx context.Context, ref types.SharedReference) error {
	sourceRoomID, err := normalize.CanonicalRoomID(ref.Domain, ref.Path)
	if err != nil {
		return fmt.Errorf("room %s: canonicalize shared reference source: %w", r.id, err)
	}
	sourceRoomID, err = normalize.ResolveRedirect(r.store, sourceRoomID)
	if err != nil {
		return fmt.Errorf("room %s: resolve shared reference redirect: %w", r.id, err)
	}

	existing, err := r.findSharedRefByRoom(sourceRoomID)
	if err != nil {
		return fmt.Errorf("room %s: find shared ref: %w", r.id, err)
	}

	now := time.Now()
	entry := &types.SharedRefEntry{SourceRoomID: sourceRoomID, LastSeen: now}
	if existing != nil {
		entry.ElementIDs = mergeUnique(existing.ElementIDs, ref.ElementID)
	} else {
		entry.ElementIDs = []string{ref.ElementID}
	}
	if err := r.store.PutSharedRef(r.id, entry); err != nil {
		return fmt.Errorf("room %s: put shared ref: %w", r.id, err)
	}
	if r.leaseM != nil {
		_ = r.leaseM.EnsureScheduled(r.id)
	}

	return r.subscribeTo(ctx, sourceRoomID, entry.ElementIDs)
}

// RegisterSharedElements implements the §4.4 step-5 behavior: a source
// client's sharedElements query parameter overwrites the room's entire
// sharedPermissions map.
func (r *Room) RegisterSharedElements(elements []types.SharedElement) error {
	perms := types.SharedPermissions{}
	for _, el := range elements {
		perms[el.ElementID] = el.Permissions
	}
	return r.store.ReplaceSharedPermissions(r.id, perms)
}

// RegisterSharedElement implements the §4.5.5 "register-shared-element"
// control message: upsert a single element's permission, then push its
// current value to any Subscriber that already asked for it before it
// was registered (late registration, §9's "legacy fallback").
func (r *Room) RegisterSharedElement(ctx context.Context, el types.SharedElement) error {
	if err := r.store.PutSharedPermission(r.id, el.ElementID, el.Permissions); err != nil {
		return fmt.Errorf("room %s: put shared permission: %w", r.id, err)
	}

	subs, err := r.store.ListSubscribers(r.id)
	if err != nil {
		return fmt.Errorf("room %s: list subscribers: %w", r.id, err)
	}
	view := r.doc.View()
	subtrees := bridge.Extract(view, []string{el.ElementID})
	if len(subtrees) == 0 {
		return nil
	}

	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		return fmt.Errorf("room %s: get room meta: %w", r.id, err)
	}

	for _, sub := range subs {
		if !containsString(sub.ElementIDs, el.ElementID) {
			continue
		}
		req := bridge.ApplySubtreesRequest{
			Subtrees:   subtrees,
			Sender:     r.id,
			OriginKind: "source",
			ResetEpoch: meta.ResetEpoch,
		}
		env, err := bridge.Encode(bridge.OpApplySubtrees, req)
		if err != nil {
			r.logger.Error().Err(err).Msg("late-registration: failed to encode envelope")
			continue
		}
		if _, err := r.party.Fetch(ctx, sub.ConsumerRoomID, env); err != nil {
			r.logger.Warn().Err(err).Str("consumer_room", sub.ConsumerRoomID).Msg("late-registration push failed")
		}
	}
	return nil
}

func (r *Room) subscribeTo(ctx context.Context, sourceRoomID string, elementIDs []string) error {
	req := bridge.SubscribeRequest{ConsumerRoomID: r.id, ElementIDs: elementIDs}
	env, err := bridge.Encode(bridge.OpSubscribe, req)
	if err != nil {
		return fmt.Errorf("room %s: encode subscribe: %w", r.id, err)
	}
	if _, err := r.party.Fetch(ctx, sourceRoomID, env); err != nil {
		return fmt.Errorf("room %s: subscribe RPC to %s: %w", r.id, sourceRoomID, err)
	}
	return nil
}

func (r *Room) findSharedRefByRoom(sourceRoomID string) (*types.SharedRefEntry, error) {
	refs, err := r.store.ListSharedRefs(r.id)
	if err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if ref.SourceRoomID == sourceRoomID {
			return ref, nil
		}
	}
	return nil, nil
}

func mergeUnique(existing []string, add string) []string {
	for _, id := range existing {
		if id == add {
			return existing
		}
	}
	return append(existing, add)
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
