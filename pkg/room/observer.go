package room

import (
	"context"

	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/crdtdoc"
)

// sourceObserverLoop implements the source-room half of §4.5.4: for
// every locally committed update not caused by a consumer's own write
// (OriginC2S — that leg already fanned out inline in applyFromConsumer),
// mirror the touched, shared elements out to every interested
// Subscriber.
func (r *Room) sourceObserverLoop(registry *Registry) {
	ch := r.doc.Subscribe()
	defer r.doc.Unsubscribe(ch)

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if update.Origin == bridge.OriginC2S {
				continue
			}
			r.mirrorToSubscribers(context.Background(), update)
		case <-r.stopObservers:
			return
		}
	}
}

// consumerObserverLoop implements the consumer-room half of §4.5.4: for
// every locally committed update not caused by the source's own mirror
// (OriginS2C), push the touched elements any SharedRefEntry cares about
// back to its source room.
func (r *Room) consumerObserverLoop(registry *Registry) {
	ch := r.doc.Subscribe()
	defer r.doc.Unsubscribe(ch)

	for {
		select {
		case update, ok := <-ch:
			if !ok {
				return
			}
			if update.Origin == bridge.OriginS2C {
				continue
			}
			r.mirrorToSources(context.Background(), update)
		case <-r.stopObservers:
			return
		}
	}
}

func touchedElementIDs(update crdtdoc.Update) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, elements := range update.ElementIDs {
		for _, id := range elements {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func (r *Room) mirrorToSubscribers(ctx context.Context, update crdtdoc.Update) {
	touched := touchedElementIDs(update)
	if len(touched) == 0 {
		return
	}

	subs, err := r.store.ListSubscribers(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("observer: failed to list subscribers")
		return
	}
	if len(subs) == 0 {
		return
	}

	perms, err := r.store.GetSharedPermissions(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("observer: failed to read shared permissions")
		return
	}

	view := r.doc.View()
	subtrees := bridge.Extract(view, touched)
	if len(subtrees) == 0 {
		return
	}

	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("observer: failed to read room meta")
		return
	}

	for _, sub := range subs {
		if len(sub.ElementIDs) == 0 {
			continue
		}
		filtered := bridge.FilterSharedForSubscriber(subtrees, sub, perms)
		if len(filtered) == 0 {
			continue
		}
		req := bridge.ApplySubtreesRequest{
			Subtrees:   filtered,
			Sender:     r.id,
			OriginKind: "source",
			ResetEpoch: meta.ResetEpoch,
		}
		env, err := bridge.Encode(bridge.OpApplySubtrees, req)
		if err != nil {
			r.logger.Error().Err(err).Msg("observer: failed to encode envelope")
			continue
		}
		if _, err := r.party.Fetch(ctx, sub.ConsumerRoomID, env); err != nil {
			r.logger.Warn().Err(err).Str("consumer_room", sub.ConsumerRoomID).Msg("mirror to subscriber failed")
		}
	}
}

func (r *Room) mirrorToSources(ctx context.Context, update crdtdoc.Update) {
	touched := touchedElementIDs(update)
	if len(touched) == 0 {
		return
	}

	refs, err := r.store.ListSharedRefs(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("observer: failed to list shared refs")
		return
	}
	if len(refs) == 0 {
		return
	}

	view := r.doc.View()
	subtrees := bridge.Extract(view, touched)
	if len(subtrees) == 0 {
		return
	}

	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("observer: failed to read room meta")
		return
	}

	for _, ref := range refs {
		filtered := bridge.Extract(subtrees, ref.ElementIDs)
		if len(filtered) == 0 {
			continue
		}
		req := bridge.ApplySubtreesRequest{
			Subtrees:   filtered,
			Sender:     r.id,
			OriginKind: "consumer",
			ResetEpoch: meta.ResetEpoch,
		}
		env, err := bridge.Encode(bridge.OpApplySubtrees, req)
		if err != nil {
			r.logger.Error().Err(err).Msg("observer: failed to encode envelope")
			continue
		}
		if _, err := r.party.Fetch(ctx, ref.SourceRoomID, env); err != nil {
			r.logger.Warn().Err(err).Str("source_room", ref.SourceRoomID).Msg("mirror to source failed")
		}
	}
}
