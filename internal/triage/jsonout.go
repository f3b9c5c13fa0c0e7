package triage

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

var errMalformedOutput = errors.New("model output is not a JSON object")

// decodeObject extracts the first top-level JSON object from model text (tolerating
// code fences and surrounding prose) and decodes it into v.
func decodeObject(content string, v any) error {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return errMalformedOutput
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), v); err != nil {
		return errors.Join(errMalformedOutput, err)
	}
	return nil
}

// itemID accepts both numeric and string bookmark ids from the model.
type itemID string

func (id *itemID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = itemID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = itemID(n.String())
	return nil
}

// decodeItems decodes each element independently so one malformed item does not
// discard the rest of the batch.
func decodeItems[T any](raw []json.RawMessage) []T {
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var item T
		if err := json.Unmarshal(r, &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	return out
}

// NormalizeConfidence returns a confidence in [0,1] for finite numbers and nil for
// anything else.
func NormalizeConfidence(v any) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	f = math.Min(math.Max(f, 0), 1)
	return &f
}

func stringsOnly(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
