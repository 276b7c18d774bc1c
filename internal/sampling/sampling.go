// Package sampling bounds the candidate data attached to a step while keeping
// enough of its structure (head, tail, a representative middle, or per-group
// examples) to explain why candidates were kept or dropped.
//
// Sampling only ever reduces the attached data. Funnel counts are recorded by
// the caller and are never derived from a sample.
package sampling

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/aniasusual/xray/internal/model"
)

// Defaults mirror the SDK configuration defaults.
const (
	DefaultThreshold  = 100
	DefaultSampleSize = 50
	DefaultRandomSize = 100
	DefaultPerStratum = 10
)

// Strategy names a sampling algorithm.
type Strategy string

const (
	StrategySmart      Strategy = "smart"
	StrategyHeadTail   Strategy = "head_tail"
	StrategyRandom     Strategy = "random"
	StrategyStratified Strategy = "stratified"
)

// ParseStrategy validates a strategy name. The empty string selects smart.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case "":
		return StrategySmart, nil
	case StrategySmart, StrategyHeadTail, StrategyRandom, StrategyStratified:
		return st, nil
	}
	return "", fmt.Errorf("sampling: unknown strategy %q (must be smart, head_tail, random, or stratified)", s)
}

// ShouldSample reports whether a list is large enough to need sampling.
func ShouldSample[T any](items []T, threshold int) bool {
	return len(items) > threshold
}

// Smart returns items unchanged when len(items) <= threshold. Otherwise it
// returns, in order: the first size items, the last size items, and up to
// size items drawn at random from the middle. The result never repeats an
// item and never exceeds len(items).
func Smart[T any](items []T, threshold, size int, r *rand.Rand) []T {
	total := len(items)
	if total <= threshold {
		return items
	}
	size = max(size, 0)
	head := min(size, total)

	out := make([]T, 0, min(total, 3*size))
	out = append(out, items[:head]...)
	if total > size {
		out = append(out, items[max(head, total-size):]...)
	}
	if total > 2*size {
		middle := items[size : total-size]
		for _, i := range pick(len(middle), size, r) {
			out = append(out, middle[i])
		}
	}
	return out
}

// HeadTail returns the first head and last tail items. Lists that the two
// windows would cover entirely are returned unchanged.
func HeadTail[T any](items []T, head, tail int) []T {
	total := len(items)
	head, tail = max(head, 0), max(tail, 0)
	if head+tail >= total {
		return items
	}
	out := make([]T, 0, head+tail)
	out = append(out, items[:head]...)
	return append(out, items[total-tail:]...)
}

// Random returns n items drawn uniformly without replacement, in their
// original order. Lists of at most n items are returned unchanged.
func Random[T any](items []T, n int, r *rand.Rand) []T {
	if n >= len(items) {
		return items
	}
	out := make([]T, 0, max(n, 0))
	for _, i := range pick(len(items), n, r) {
		out = append(out, items[i])
	}
	return out
}

// StratifiedBy groups items by the key returned from keyFn and keeps up to
// perGroup items from each group. Items for which keyFn reports false are
// dropped. Groups appear in order of first occurrence.
func StratifiedBy[T any, K comparable](items []T, keyFn func(T) (K, bool), perGroup int, r *rand.Rand) []T {
	var order []K
	groups := make(map[K][]T)
	for _, it := range items {
		k, ok := keyFn(it)
		if !ok {
			continue
		}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], it)
	}

	var out []T
	for _, k := range order {
		out = append(out, Random(groups[k], perGroup, r)...)
	}
	return out
}

// Stratified groups candidates by the value of field and keeps up to
// perGroup candidates per distinct value.
func Stratified(items []model.Candidate, field string, perGroup int, r *rand.Rand) []model.Candidate {
	return StratifiedBy(items, func(c model.Candidate) (string, bool) {
		v, ok := c[field]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprintf("%T:%v", v, v), true
	}, perGroup, r)
}

// pick returns k distinct indices in [0, n), sorted ascending.
func pick(n, k int, r *rand.Rand) []int {
	k = min(max(k, 0), n)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := range k {
		j := i + intN(r, n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	chosen := idx[:k]
	slices.Sort(chosen)
	return chosen
}

func intN(r *rand.Rand, n int) int {
	if r == nil {
		return rand.IntN(n) //nolint:gosec // sampling does not need crypto-strength randomness
	}
	return r.IntN(n)
}
