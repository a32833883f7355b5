package scorer

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed reliability.yml
var defaultReliability []byte

type reliabilityFile struct {
	Default *float64           `yaml:"default"`
	Domains map[string]float64 `yaml:"domains"`
}

// Reliability maps source domains to a trust score in [0,1].
type Reliability struct {
	fallback float64
	domains  map[string]float64
}

// LoadReliability reads the built-in table and, when overridePath is set,
// merges the override file on top of it.
func LoadReliability(overridePath string) (*Reliability, error) {
	r := &Reliability{domains: make(map[string]float64)}

	if err := r.merge(defaultReliability); err != nil {
		return nil, fmt.Errorf("invalid built-in reliability table: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read reliability file: %w", err)
		}
		if err := r.merge(data); err != nil {
			return nil, fmt.Errorf("invalid reliability file %s: %w", overridePath, err)
		}
	}

	return r, nil
}

func (r *Reliability) merge(data []byte) error {
	var file reliabilityFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	if file.Default != nil {
		if *file.Default < 0 || *file.Default > 1 {
			return fmt.Errorf("default score %v is outside [0,1]", *file.Default)
		}
		r.fallback = *file.Default
	}

	for domain, score := range file.Domains {
		if score < 0 || score > 1 {
			return fmt.Errorf("score %v for %s is outside [0,1]", score, domain)
		}
		r.domains[normalizeDomain(domain)] = score
	}

	return nil
}

// Score returns the domain's reliability, or the default for unknown domains.
func (r *Reliability) Score(domain string) float64 {
	if score, ok := r.domains[normalizeDomain(domain)]; ok {
		return score
	}
	return r.fallback
}

func normalizeDomain(domain string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
}
