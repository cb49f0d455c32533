package parser

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options tunes registry construction. Loaded from an optional YAML file so
// operators can disable a capability or tighten the probe threshold without
// rebuilding.
type Options struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	Disabled            []string `yaml:"disabled"`
}

// LoadOptions reads registry options from a YAML file. A missing file yields
// zero-value options (all defaults).
func LoadOptions(path string) (*Options, error) {
	if path == "" {
		return &Options{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Options{}, nil
		}
		return nil, fmt.Errorf("failed to read parser options: %w", err)
	}

	var opts Options
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("failed to parse parser options: %w", err)
	}
	return &opts, nil
}

// BuildRegistry constructs the registry over the built-in capabilities,
// applying the given options. Registration order fixes tie-break priority:
// claude first, codex second.
func BuildRegistry(opts *Options) *Registry {
	if opts == nil {
		opts = &Options{}
	}

	disabled := make(map[string]bool, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = true
	}

	all := []Capability{
		NewClaudeCapability(),
		NewCodexCapability(),
	}
	var caps []Capability
	for _, c := range all {
		if !disabled[c.Name()] {
			caps = append(caps, c)
		}
	}

	reg := NewRegistry(caps...)
	if opts.ConfidenceThreshold > 0 {
		reg.SetThreshold(opts.ConfidenceThreshold)
	}
	return reg
}
