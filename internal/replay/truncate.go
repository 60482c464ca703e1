package replay

import (
	"encoding/json"
)

const truncationMarker = "...[truncated]"

// Truncate shrinks a decoded response value until its JSON encoding
// fits maxBytes. Array tails go first, then the longest string values
// are cut with a visible marker. The input is not modified. The floor
// is len("null"): no JSON encoding is smaller, so budgets of 1-3 bytes
// clamp up to it.
func Truncate(value interface{}, maxBytes int) (interface{}, bool) {
	if maxBytes <= 0 {
		return value, false
	}
	if minBytes := len("null"); maxBytes < minBytes {
		maxBytes = minBytes
	}
	raw, err := json.Marshal(value)
	if err != nil || len(raw) <= maxBytes {
		return value, false
	}

	// Deep copy so the caller's value stays intact. The root slice
	// gives every slot, including the top-level value, a settable
	// container.
	root := make([]interface{}, 1)
	if err := json.Unmarshal(raw, &root[0]); err != nil {
		return value, false
	}

	for encodedSize(root[0]) > maxBytes {
		if !dropLongestArrayTail(root) {
			break
		}
	}

	for encodedSize(root[0]) > maxBytes {
		if !cutLongestString(root, maxBytes, encodedSize(root[0])) {
			break
		}
	}

	if encodedSize(root[0]) > maxBytes {
		root[0] = truncationMarker
	}
	if encodedSize(root[0]) > maxBytes {
		root[0] = nil
	}
	return root[0], true
}

func encodedSize(value interface{}) int {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return len(raw)
}

// slot is a settable position inside the decoded value tree.
type slot struct {
	get func() interface{}
	set func(interface{})
}

func collectSlots(container interface{}) []slot {
	var slots []slot
	switch v := container.(type) {
	case map[string]interface{}:
		for key := range v {
			key := key
			slots = append(slots, slot{
				get: func() interface{} { return v[key] },
				set: func(value interface{}) { v[key] = value },
			})
			slots = append(slots, collectSlots(v[key])...)
		}
	case []interface{}:
		for i := range v {
			i := i
			slots = append(slots, slot{
				get: func() interface{} { return v[i] },
				set: func(value interface{}) { v[i] = value },
			})
			slots = append(slots, collectSlots(v[i])...)
		}
	}
	return slots
}

// dropLongestArrayTail removes the last element of the largest array in
// the tree. Returns false when no array can shrink further.
func dropLongestArrayTail(root []interface{}) bool {
	var best slot
	bestLen := 1
	for _, s := range collectSlots(root) {
		if arr, ok := s.get().([]interface{}); ok && len(arr) > bestLen {
			best = s
			bestLen = len(arr)
		}
	}
	if best.set == nil {
		return false
	}
	arr := best.get().([]interface{})
	best.set(arr[:len(arr)-1])
	return true
}

// cutLongestString halves the longest string value and appends the
// truncation marker. Returns false when no string is worth cutting.
func cutLongestString(root []interface{}, maxBytes, currentSize int) bool {
	var best slot
	bestLen := len(truncationMarker)
	for _, s := range collectSlots(root) {
		if str, ok := s.get().(string); ok && len(str) > bestLen {
			best = s
			bestLen = len(str)
		}
	}
	if best.set == nil {
		return false
	}
	str := best.get().(string)

	over := currentSize - maxBytes
	keep := len(str) - over - len(truncationMarker)
	if keep > len(str)/2 {
		keep = len(str) / 2
	}
	if keep < 0 {
		keep = 0
	}
	// Do not split a UTF-8 sequence.
	for keep > 0 && str[keep]&0xC0 == 0x80 {
		keep--
	}
	best.set(str[:keep] + truncationMarker)
	return true
}
