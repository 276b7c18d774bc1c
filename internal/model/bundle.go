package model

import (
	"fmt"
	"maps"
	"slices"

	json "github.com/goccy/go-json"
)

// Bundle is the submit-trace body: a completed run together with its steps.
type Bundle struct {
	Run   Run    `json:"run"`
	Steps []Step `json:"steps"`
}

// NewBundle builds a bundle from snapshots of a run and its attached steps.
// Steps are ordered by sequence and linked to the run.
func NewBundle(run *Run, steps []*Step) *Bundle {
	b := &Bundle{Run: run.Clone(), Steps: make([]Step, 0, len(steps))}
	for _, s := range steps {
		c := s.Clone()
		id := b.Run.ID
		c.RunID = &id
		b.Steps = append(b.Steps, c)
	}
	slices.SortStableFunc(b.Steps, func(x, y Step) int { return x.Sequence - y.Sequence })
	return b
}

// Validate checks the run, every step, and that steps appear in
// non-decreasing sequence order.
func (b *Bundle) Validate() error {
	if err := b.Run.Validate(); err != nil {
		return err
	}
	prev := -1
	for i := range b.Steps {
		s := &b.Steps[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if s.RunID != nil && *s.RunID != b.Run.ID {
			return fmt.Errorf("steps[%d]: run_id %s does not match run %s", i, *s.RunID, b.Run.ID)
		}
		if s.Sequence < prev {
			return fmt.Errorf("steps[%d]: sequence %d out of order (previous %d)", i, s.Sequence, prev)
		}
		prev = s.Sequence
	}
	return nil
}

// Encode serializes the bundle to its wire form.
func Encode(b *Bundle) ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("model: encode bundle: %w", err)
	}
	return data, nil
}

// Decode parses and validates a serialized bundle.
func Decode(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("model: decode bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Clone returns a deep copy of r. Nested maps and slices are copied too, so
// neither copy can observe changes made through the other.
func (r *Run) Clone() Run {
	c := *r
	c.Metadata = CloneMap(r.Metadata)
	c.FinalOutput = CloneMap(r.FinalOutput)
	if r.EndTime != nil {
		t := *r.EndTime
		c.EndTime = &t
	}
	return c
}

// Clone returns a deep copy of s, including every candidate and nested
// metadata value.
func (s *Step) Clone() Step {
	c := *s
	c.Inputs = CloneMap(s.Inputs)
	c.Outputs = CloneMap(s.Outputs)
	c.FiltersApplied = CloneMap(s.FiltersApplied)
	c.Metadata = CloneMap(s.Metadata)
	if s.CandidatesData != nil {
		c.CandidatesData = make([]Candidate, len(s.CandidatesData))
		for i, cand := range s.CandidatesData {
			c.CandidatesData[i] = CloneMap(cand)
		}
	}
	if s.RunID != nil {
		id := *s.RunID
		c.RunID = &id
	}
	if s.StartTime != nil {
		t := *s.StartTime
		c.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.CandidatesIn != nil {
		n := *s.CandidatesIn
		c.CandidatesIn = &n
	}
	if s.CandidatesOut != nil {
		n := *s.CandidatesOut
		c.CandidatesOut = &n
	}
	return c
}

// CloneMap deep-copies a JSON-like map. nil stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue copies the container types trace payloads are built from.
// Scalars and other values are returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneMap(v)
	case []map[string]any:
		if v == nil {
			return v
		}
		out := make([]map[string]any, len(v))
		for i, m := range v {
			out[i] = CloneMap(m)
		}
		return out
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]string:
		return maps.Clone(v)
	case []string:
		return slices.Clone(v)
	case []int:
		return slices.Clone(v)
	case []float64:
		return slices.Clone(v)
	}
	return v
}
