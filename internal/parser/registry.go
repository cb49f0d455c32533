package parser

import (
	"fmt"

	"github.com/convolog/ingestd/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultConfidenceThreshold is the minimum probe confidence a capability
// must report to be considered at all.
const DefaultConfidenceThreshold = 0.5

// Registry holds the registered capabilities in registration order.
// Registration order is the tie-break priority: when two capabilities report
// equal confidence for a file, the earliest-registered one wins, which keeps
// selection deterministic across runs.
type Registry struct {
	caps      []Capability
	threshold float64
}

// NewRegistry builds a registry over an explicit, statically constructed
// capability list.
func NewRegistry(caps ...Capability) *Registry {
	return &Registry{caps: caps, threshold: DefaultConfidenceThreshold}
}

// SetThreshold overrides the confidence threshold. Values outside (0, 1]
// are ignored.
func (r *Registry) SetThreshold(t float64) {
	if t > 0 && t <= 1 {
		r.threshold = t
	}
}

// Get returns a capability by name, for files whose parser was already
// identified on a previous run.
func (r *Registry) Get(name string) (Capability, bool) {
	for _, c := range r.caps {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Select probes every capability against the file and returns the best
// match. A capability reporting confidence 1.0 short-circuits the scan.
// Returns domain.ErrNoParserMatch when nothing clears the threshold.
func (r *Registry) Select(path string) (Capability, error) {
	var (
		best     Capability
		bestConf float64
	)

	for _, c := range r.caps {
		res, err := c.Probe(path)
		if err != nil {
			log.Warn().
				Err(err).
				Str("parser", c.Name()).
				Str("file", path).
				Msg("Probe failed, skipping capability")
			continue
		}

		log.Debug().
			Str("parser", c.Name()).
			Str("file", path).
			Float64("confidence", res.Confidence).
			Str("reason", res.Reason).
			Msg("Probed file")

		if res.Confidence < r.threshold {
			continue
		}
		if res.Confidence >= 1.0 {
			return c, nil
		}
		// Strictly greater keeps the earliest-registered capability on ties.
		if best == nil || res.Confidence > bestConf {
			best = c
			bestConf = res.Confidence
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoParserMatch, path)
	}
	return best, nil
}
