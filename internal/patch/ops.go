package patch

import (
	"encoding/json"
	"fmt"

	"docsync/internal/blocks"

	"github.com/snorwin/jsonpatch"
)

// ContentOps returns the JSON patch turning before into after, computed on
// the canonical forms so keys and cached URLs never show up as changes.
func ContentOps(before, after []blocks.Block) (jsonpatch.JSONPatchList, error) {
	return Ops(
		map[string]any{"content": blocks.Canonical(before)},
		map[string]any{"content": blocks.Canonical(after)},
	)
}

// Ops returns the RFC 6902 operations turning before into after. Both values
// go through their JSON form first, so struct tags decide field names.
func Ops(before, after any) (jsonpatch.JSONPatchList, error) {
	b, err := toGeneric(before)
	if err != nil {
		return jsonpatch.JSONPatchList{}, err
	}
	a, err := toGeneric(after)
	if err != nil {
		return jsonpatch.JSONPatchList{}, err
	}

	list, err := jsonpatch.CreateJSONPatch(a, b)
	if err != nil {
		return jsonpatch.JSONPatchList{}, fmt.Errorf("failed to create JSON patch: %w", err)
	}
	return list, nil
}

func toGeneric(v any) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}
	return out, nil
}
