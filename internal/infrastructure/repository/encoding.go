package repository

import "encoding/json"

// encodeStringSet/decodeStringSet and encodeStringMap/decodeStringMap
// marshal an Identity's Contexts/Properties into the JSONB columns the
// teacher's agent_repository.go uses for talks_to/capabilities.

func encodeStringSet(set map[string]struct{}) ([]byte, error) {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	return json.Marshal(keys)
}

func decodeStringSet(raw []byte) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(raw) == 0 {
		return out, nil
	}
	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

func encodeStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func decodeStringMap(raw []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
