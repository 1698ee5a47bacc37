package bridge

import "github.com/playhtml/playroom/pkg/types"

// Origin tags stamped onto CRDT transactions applied from a bridge RPC.
// They are the sole mechanism that stops two mutually mirroring rooms from
// echoing an update back and forth forever: an observer ignores any update
// whose origin is the tag it would itself apply inbound updates under.
const (
	OriginS2C = "bridge:s2c" // applied by a consumer room receiving from a source
	OriginC2S = "bridge:c2s" // applied by a source room receiving from a consumer
)

// FilterForSourceFromConsumer applies the recipient-is-source filtering
// rules to an incoming apply-subtrees-immediate payload: an element that
// isn't already present in the recipient's play[tag], or isn't granted
// exactly read-write permission, is dropped before the transaction applies.
func FilterForSourceFromConsumer(existing map[string]map[string]any, perms types.SharedPermissions, subtrees map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for tag, elements := range subtrees {
		for elementID, value := range elements {
			if _, present := existing[tag][elementID]; !present {
				continue
			}
			if perms[elementID] != types.PermissionReadWrite {
				continue
			}
			if out[tag] == nil {
				out[tag] = make(map[string]any)
			}
			out[tag][elementID] = value
		}
	}
	return out
}

// FilterForConsumerFromSource applies the recipient-is-consumer filtering
// rule: only elementIds present in the matching SharedRefEntry survive.
func FilterForConsumerFromSource(ref *types.SharedRefEntry, subtrees map[string]map[string]any) map[string]map[string]any {
	wanted := make(map[string]struct{}, len(ref.ElementIDs))
	for _, id := range ref.ElementIDs {
		wanted[id] = struct{}{}
	}

	out := make(map[string]map[string]any)
	for tag, elements := range subtrees {
		for elementID, value := range elements {
			if _, ok := wanted[elementID]; !ok {
				continue
			}
			if out[tag] == nil {
				out[tag] = make(map[string]any)
			}
			out[tag][elementID] = value
		}
	}
	return out
}

// FilterSharedForSubscriber restricts a source's outbound subtree to the
// elements a Subscriber actually asked for, intersected with the elements
// that are shared at all (present in sharedPermissions) — only shared
// elements ever propagate.
func FilterSharedForSubscriber(subtrees map[string]map[string]any, sub *types.Subscriber, perms types.SharedPermissions) map[string]map[string]any {
	wanted := make(map[string]struct{}, len(sub.ElementIDs))
	for _, id := range sub.ElementIDs {
		wanted[id] = struct{}{}
	}

	out := make(map[string]map[string]any)
	for tag, elements := range subtrees {
		for elementID, value := range elements {
			if _, ok := wanted[elementID]; !ok {
				continue
			}
			if _, shared := perms[elementID]; !shared {
				continue
			}
			if out[tag] == nil {
				out[tag] = make(map[string]any)
			}
			out[tag][elementID] = value
		}
	}
	return out
}
