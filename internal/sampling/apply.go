package sampling

import (
	"math/rand/v2"

	"github.com/aniasusual/xray/internal/model"
)

// Params carries the sizes used by Apply. Zero values fall back to defaults.
type Params struct {
	Threshold  int
	SampleSize int // smart window size and head/tail size
	RandomSize int
	StrataKey  string
	PerStratum int
	Rand       *rand.Rand // nil uses the package-level source
}

func (p Params) withDefaults() Params {
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.SampleSize <= 0 {
		p.SampleSize = DefaultSampleSize
	}
	if p.RandomSize <= 0 {
		p.RandomSize = DefaultRandomSize
	}
	if p.PerStratum <= 0 {
		p.PerStratum = DefaultPerStratum
	}
	return p
}

// Apply reduces candidates with the named strategy. Unknown strategies, and
// stratified sampling without a strata key, fall back to smart sampling.
func Apply(strategy Strategy, items []model.Candidate, p Params) []model.Candidate {
	p = p.withDefaults()
	switch strategy {
	case StrategyHeadTail:
		return HeadTail(items, p.SampleSize, p.SampleSize)
	case StrategyRandom:
		return Random(items, p.RandomSize, p.Rand)
	case StrategyStratified:
		if p.StrataKey != "" {
			return Stratified(items, p.StrataKey, p.PerStratum, p.Rand)
		}
	}
	return Smart(items, p.Threshold, p.SampleSize, p.Rand)
}

// Summary describes how much a sample reduced the original data.
type Summary struct {
	OriginalCount int     `json:"original_count"`
	SampledCount  int     `json:"sampled_count"`
	SamplingRate  float64 `json:"sampling_rate"`
	DataReduction float64 `json:"data_reduction"`
}

// Summarize reports the sampling rate and data reduction for a sample.
func Summarize(original, sampled int) Summary {
	s := Summary{OriginalCount: original, SampledCount: sampled}
	if original > 0 {
		s.SamplingRate = float64(sampled) / float64(original)
	}
	s.DataReduction = 1 - s.SamplingRate
	return s
}
