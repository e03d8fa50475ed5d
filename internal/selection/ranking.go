package selection

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"newsdesk/internal/ai"
)

// DefaultConfidence is assigned when the response carries bare indices.
const DefaultConfidence = 0.8

// ErrUnrecognizedShape is returned for JSON that matches no ranking shape.
var ErrUnrecognizedShape = errors.New("selection: unrecognized ranking shape")

// Shape names the form a ranking response arrived in.
type Shape int

const (
	ShapeWrapped Shape = iota // {"articles": [...]}
	ShapePairs                // [{"index": 0, "confidence": 0.9}, ...]
	ShapeLegacy               // [0, 3, 1]
	ShapeSingle               // {"index": 0, "confidence": 0.9}
)

func (s Shape) String() string {
	switch s {
	case ShapeWrapped:
		return "wrapped"
	case ShapePairs:
		return "pairs"
	case ShapeLegacy:
		return "legacy"
	case ShapeSingle:
		return "single"
	}
	return "unknown"
}

// wrapperKeys are checked in order.
var wrapperKeys = []string{"articles", "result", "indices", "selected"}

// Ranked is one validated entry, best first.
type Ranked struct {
	Index      int
	Confidence float64
}

// Ranking is a parsed response.
type Ranking struct {
	Shape   Shape
	Key     string // wrapper key for ShapeWrapped
	Entries []Ranked
}

// ParseRanking decodes a ranking response for n candidates. Entries whose
// index is out of [0, n), not an integer or already seen are dropped.
func ParseRanking(text string, n int) (Ranking, error) {
	raw, err := ai.ExtractJSON(text)
	if err != nil {
		return Ranking{}, err
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Ranking{}, fmt.Errorf("selection: decode ranking: %w", err)
	}

	var r Ranking
	switch t := v.(type) {
	case map[string]any:
		if key, arr, ok := wrapped(t); ok {
			r.Shape, r.Key = ShapeWrapped, key
			r.Entries = entries(arr)
		} else if _, ok := t["index"]; ok {
			r.Shape = ShapeSingle
			r.Entries = entries([]any{t})
		} else {
			return Ranking{}, ErrUnrecognizedShape
		}
	case []any:
		r.Shape = ShapePairs
		if isLegacy(t) {
			r.Shape = ShapeLegacy
		}
		r.Entries = entries(t)
	default:
		return Ranking{}, ErrUnrecognizedShape
	}
	r.Entries = validate(r.Entries, n)
	return r, nil
}

func wrapped(m map[string]any) (string, []any, bool) {
	for _, k := range wrapperKeys {
		if arr, ok := m[k].([]any); ok {
			return k, arr, true
		}
	}
	return "", nil, false
}

func isLegacy(arr []any) bool {
	if len(arr) == 0 {
		return false
	}
	for _, e := range arr {
		if _, ok := e.(json.Number); !ok {
			return false
		}
	}
	return true
}

// entries converts raw elements; unusable elements get Index -1.
func entries(arr []any) []Ranked {
	out := make([]Ranked, 0, len(arr))
	for _, e := range arr {
		switch t := e.(type) {
		case json.Number:
			out = append(out, Ranked{Index: toIndex(t), Confidence: DefaultConfidence})
		case string:
			out = append(out, Ranked{Index: toIndex(t), Confidence: DefaultConfidence})
		case map[string]any:
			idx, ok := t["index"]
			if !ok {
				out = append(out, Ranked{Index: -1})
				continue
			}
			conf := DefaultConfidence
			for _, k := range []string{"confidence", "confidence_score", "score"} {
				if c, ok := toFloat(t[k]); ok {
					conf = c
					break
				}
			}
			out = append(out, Ranked{Index: toIndex(idx), Confidence: clampConfidence(conf)})
		default:
			out = append(out, Ranked{Index: -1})
		}
	}
	return out
}

func validate(in []Ranked, n int) []Ranked {
	seen := make(map[int]bool, len(in))
	out := make([]Ranked, 0, len(in))
	for _, r := range in {
		if r.Index < 0 || r.Index >= n || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		out = append(out, r)
	}
	return out
}

func toIndex(v any) int {
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) {
		return -1
	}
	return int(f)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// clampConfidence maps percentages onto [0,1] and clamps.
func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return DefaultConfidence
	}
	if c > 1 && c <= 100 {
		c = c / 100
	}
	return math.Max(0, math.Min(1, c))
}
