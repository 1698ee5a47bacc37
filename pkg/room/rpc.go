package room

import (
	"context"
	"fmt"
	"time"

	"github.com/playhtml/playroom/pkg/bridge"
	"github.com/playhtml/playroom/pkg/crdtdoc"
	"github.com/playhtml/playroom/pkg/events"
	"github.com/playhtml/playroom/pkg/metrics"
	"github.com/playhtml/playroom/pkg/types"
)

// HandleEnvelope dispatches an incoming bridge RPC envelope to the
// matching handler, per the discriminated §4.5.2 surface.
func (r *Room) HandleEnvelope(ctx context.Context, env bridge.Envelope) (bridge.Envelope, error) {
	timer := metrics.NewTimer()
	result := "ok"
	defer func() {
		timer.ObserveDurationVec(metrics.BridgeRPCDuration, env.Op)
		metrics.BridgeRPCsTotal.WithLabelValues(env.Op, result).Inc()
	}()

	var (
		resp any
		err  error
	)
	switch env.Op {
	case bridge.OpSubscribe:
		resp, err = r.handleSubscribe(env)
	case bridge.OpExportPermissions:
		resp, err = r.handleExportPermissions(env)
	case bridge.OpApplySubtrees:
		resp, err = r.handleApplySubtrees(ctx, env)
	default:
		err = fmt.Errorf("room %s: unknown bridge op %q", r.id, env.Op)
	}
	if err != nil {
		result = "error"
		return bridge.Envelope{}, err
	}
	out, encErr := bridge.Encode(env.Op, resp)
	if encErr != nil {
		result = "error"
		return bridge.Envelope{}, encErr
	}
	return out, nil
}

func (r *Room) handleSubscribe(env bridge.Envelope) (bridge.SubscribeResponse, error) {
	var req bridge.SubscribeRequest
	if err := bridge.Decode(env, &req); err != nil {
		return bridge.SubscribeResponse{}, fmt.Errorf("room %s: decode subscribe: %w", r.id, err)
	}

	now := time.Now()
	sub := &types.Subscriber{
		ConsumerRoomID: req.ConsumerRoomID,
		ElementIDs:     req.ElementIDs,
		CreatedAt:      now,
		LastSeen:       now,
		LeaseMs:        types.DefaultLeaseMs,
	}
	if existing, err := r.findSubscriber(req.ConsumerRoomID); err == nil && existing != nil {
		sub.CreatedAt = existing.CreatedAt
	}
	if err := r.store.PutSubscriber(r.id, sub); err != nil {
		return bridge.SubscribeResponse{}, fmt.Errorf("room %s: put subscriber: %w", r.id, err)
	}
	if r.leaseM != nil {
		_ = r.leaseM.EnsureScheduled(r.id)
	}
	if r.events != nil {
		r.events.Publish(&events.Event{
			Type:    events.EventSubscriberAdded,
			RoomID:  r.id,
			Message: "subscriber registered",
			Metadata: map[string]string{"consumer_room_id": req.ConsumerRoomID},
		})
	}

	return bridge.SubscribeResponse{OK: true, Subscribed: true, ElementIDs: req.ElementIDs}, nil
}

func (r *Room) handleExportPermissions(env bridge.Envelope) (bridge.ExportPermissionsResponse, error) {
	var req bridge.ExportPermissionsRequest
	if err := bridge.Decode(env, &req); err != nil {
		return bridge.ExportPermissionsResponse{}, fmt.Errorf("room %s: decode export-permissions: %w", r.id, err)
	}

	all, err := r.store.GetSharedPermissions(r.id)
	if err != nil {
		return bridge.ExportPermissionsResponse{}, fmt.Errorf("room %s: get permissions: %w", r.id, err)
	}
	subset := types.SharedPermissions{}
	for _, id := range req.ElementIDs {
		if perm, ok := all[id]; ok {
			subset[id] = perm
		}
	}
	return bridge.ExportPermissionsResponse{Permissions: subset}, nil
}

func (r *Room) handleApplySubtrees(ctx context.Context, env bridge.Envelope) (bridge.ApplySubtreesResponse, error) {
	var req bridge.ApplySubtreesRequest
	if err := bridge.Decode(env, &req); err != nil {
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: decode apply-subtrees: %w", r.id, err)
	}

	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: get room meta: %w", r.id, err)
	}
	if req.ResetEpoch < meta.ResetEpoch {
		r.logger.Warn().Str("sender", req.Sender).Int64("msg_epoch", req.ResetEpoch).
			Int64("stored_epoch", meta.ResetEpoch).Msg("dropping apply-subtrees from stale epoch")
		return bridge.ApplySubtreesResponse{OK: false, Dropped: "stale-epoch"}, nil
	}

	var resp bridge.ApplySubtreesResponse
	switch req.OriginKind {
	case "consumer":
		resp, err = r.applyFromConsumer(ctx, req)
	case "source":
		resp, err = r.applyFromSource(req)
	default:
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: unknown originKind %q", r.id, req.OriginKind)
	}
	if err == nil && resp.OK && r.events != nil {
		r.events.Publish(&events.Event{
			Type:     events.EventBridgeApplied,
			RoomID:   r.id,
			Message:  "bridge subtree applied",
			Metadata: map[string]string{"sender": req.Sender, "origin_kind": req.OriginKind},
		})
	}
	return resp, err
}

// applyFromConsumer handles the recipient-is-source case: filter to
// elements already present and granted exactly read-write, apply under
// OriginC2S, then fan out to the room's other subscribers (§4.5.3,
// §4.5.4's "fanout already happened inline").
func (r *Room) applyFromConsumer(ctx context.Context, req bridge.ApplySubtreesRequest) (bridge.ApplySubtreesResponse, error) {
	perms, err := r.store.GetSharedPermissions(r.id)
	if err != nil {
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: get permissions: %w", r.id, err)
	}

	view := r.doc.View()
	filtered := bridge.FilterForSourceFromConsumer(view, perms, req.Subtrees)
	if len(filtered) > 0 {
		r.Transact(bridge.OriginC2S, func(t *crdtdoc.Txn) {
			bridge.Assign(t.Get, t.Set, filtered)
		})
	}

	subs, err := r.store.ListSubscribers(r.id)
	if err != nil {
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: list subscribers: %w", r.id, err)
	}
	newView := r.doc.View()
	outgoing := bridge.Extract(newView, allElementIDs(req.Subtrees))
	for _, sub := range subs {
		if sub.ConsumerRoomID == req.Sender {
			continue
		}
		perSub := bridge.FilterSharedForSubscriber(outgoing, sub, perms)
		if len(perSub) == 0 {
			continue
		}
		r.fanoutTo(ctx, sub.ConsumerRoomID, perSub)
	}

	return bridge.ApplySubtreesResponse{OK: true}, nil
}

// applyFromSource handles the recipient-is-consumer case: filter to the
// matching SharedRefEntry's elementIds, apply under OriginS2C.
func (r *Room) applyFromSource(req bridge.ApplySubtreesRequest) (bridge.ApplySubtreesResponse, error) {
	ref, err := r.findSharedRef(req.Sender)
	if err != nil {
		return bridge.ApplySubtreesResponse{}, fmt.Errorf("room %s: find shared ref: %w", r.id, err)
	}
	if ref == nil {
		return bridge.ApplySubtreesResponse{OK: false, Dropped: "no-such-reference"}, nil
	}

	filtered := bridge.FilterForConsumerFromSource(ref, req.Subtrees)
	if len(filtered) > 0 {
		r.Transact(bridge.OriginS2C, func(t *crdtdoc.Txn) {
			bridge.Assign(t.Get, t.Set, filtered)
		})
	}
	return bridge.ApplySubtreesResponse{OK: true}, nil
}

// fanoutTo sends a filtered subtree to a subscriber's consumer room,
// best-effort: RPC failures are logged and swallowed per §5's "eventually
// self-healing via the next observer event".
func (r *Room) fanoutTo(ctx context.Context, consumerRoomID string, subtrees map[string]map[string]any) {
	meta, err := r.store.GetRoomMeta(r.id)
	if err != nil {
		r.logger.Error().Err(err).Msg("fanout: failed to read room meta")
		return
	}
	req := bridge.ApplySubtreesRequest{
		Subtrees:   subtrees,
		Sender:     r.id,
		OriginKind: "source",
		ResetEpoch: meta.ResetEpoch,
	}
	env, err := bridge.Encode(bridge.OpApplySubtrees, req)
	if err != nil {
		r.logger.Error().Err(err).Msg("fanout: failed to encode envelope")
		return
	}
	if _, err := r.party.Fetch(ctx, consumerRoomID, env); err != nil {
		r.logger.Warn().Err(err).Str("consumer_room", consumerRoomID).Msg("fanout RPC failed")
	}
}

func (r *Room) findSubscriber(consumerRoomID string) (*types.Subscriber, error) {
	subs, err := r.store.ListSubscribers(r.id)
	if err != nil {
		return nil, err
	}
	for _, s := range subs {
		if s.ConsumerRoomID == consumerRoomID {
			return s, nil
		}
	}
	return nil, nil
}

func (r *Room) findSharedRef(sourceRoomID string) (*types.SharedRefEntry, error) {
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

func allElementIDs(subtrees map[string]map[string]any) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, elements := range subtrees {
		for id := range elements {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}
