package bridge

// Extract copies play[tag][elementId] for every elementId in ids, across
// every tag, into a fresh tag -> elementId -> value map of plain,
// JSON-compatible data.
func Extract(view map[string]map[string]any, ids []string) map[string]map[string]any {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	out := make(map[string]map[string]any)
	for tag, elements := range view {
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

// deepEqual reports plain-data equality the way a JSON round-trip would see
// it: map/slice/scalar structural equality, not pointer identity.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !deepEqual(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// deepReplace builds the replacement value under the deep replace policy:
// for plain objects the result holds exactly the incoming keys, recursing
// where both sides hold an object; arrays and primitives are taken from
// incoming as they are. It returns a new map and does not mutate existing,
// so the element's cell is rewritten with a new value, not edited in place.
func deepReplace(existing, incoming any) any {
	incomingMap, incomingIsMap := incoming.(map[string]any)
	if !incomingIsMap {
		return incoming
	}
	existingMap, existingIsMap := existing.(map[string]any)
	if !existingIsMap {
		// Nothing compatible to mutate in place; adopt the incoming object.
		existingMap = make(map[string]any, len(incomingMap))
	}

	result := make(map[string]any, len(incomingMap))
	for key, value := range incomingMap {
		if prior, ok := existingMap[key]; ok {
			result[key] = deepReplace(prior, value)
		} else {
			result[key] = value
		}
	}
	// Keys present in existingMap but absent from incomingMap are dropped
	// by construction: result is built only from incomingMap's keys.
	return result
}

// Assign applies subtrees onto a document transaction: for each touched
// (tag, elementId), skip writes that are JSON-equal to the existing value,
// otherwise set the incoming value (absent element) or the deepReplace
// result (present element). Either way a new value is written through set;
// existing nested maps are not mutated in place.
func Assign(get func(tag, elementID string) (any, bool), set func(tag, elementID string, value any), subtrees map[string]map[string]any) {
	for tag, elements := range subtrees {
		for elementID, incoming := range elements {
			existing, ok := get(tag, elementID)
			if ok && deepEqual(existing, incoming) {
				continue
			}
			if !ok {
				set(tag, elementID, incoming)
				continue
			}
			set(tag, elementID, deepReplace(existing, incoming))
		}
	}
}
