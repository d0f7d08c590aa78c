// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"fmt"
	"time"
)

// Weights configures the linear combination of normalized sub-scores.
// The weights must be non-negative and sum to 1.
type Weights struct {
	// PathDiversity weights the inverse disjoint-path count.
	PathDiversity float64 `yaml:"path_diversity" json:"path_diversity"`

	// Concentration weights the Herfindahl counterparty concentration.
	Concentration float64 `yaml:"concentration" json:"concentration"`

	// Geographic weights static risk attributes on visited nodes.
	Geographic float64 `yaml:"geographic" json:"geographic"`

	// SPOF weights the single-point-of-failure count.
	SPOF float64 `yaml:"spof" json:"spof"`
}

// Thresholds maps the combined score to a risk tier. A score below Medium
// is LOW; below High is MEDIUM; below Critical is HIGH; anything else is
// CRITICAL.
type Thresholds struct {
	Medium   float64 `yaml:"medium" json:"medium"`
	High     float64 `yaml:"high" json:"high"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Config configures the risk analyzer.
//
// Weights and limits are configuration rather than hard-coded constants so
// they can be validated and tested independently, and hot-reloaded without
// restarting the service.
type Config struct {
	// Weights is the scoring weight vector.
	Weights Weights `yaml:"weights" json:"weights"`

	// Thresholds maps scores to tiers.
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`

	// MaxHops is the hard hop cap for path enumeration. Default: 5.
	MaxHops int `yaml:"max_hops" json:"max_hops"`

	// MaxPaths is the hard cap on disjoint paths counted per target.
	// Default: 8.
	MaxPaths int `yaml:"max_paths" json:"max_paths"`

	// MaxVisited is the work budget (node expansions) per path search.
	// Default: 10000.
	MaxVisited int `yaml:"max_visited" json:"max_visited"`

	// TopCounterparties is how many counterparties to derive when the
	// caller specifies no targets. Default: 5.
	TopCounterparties int `yaml:"top_counterparties" json:"top_counterparties"`

	// TraversalTimeout bounds each store traversal. Default: 5s.
	TraversalTimeout time.Duration `yaml:"traversal_timeout" json:"traversal_timeout"`
}

// DefaultConfig returns documented analyzer defaults.
//
// Tier thresholds: scores below 25 are LOW, below 50 MEDIUM, below 75 HIGH,
// and 75+ CRITICAL.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			PathDiversity: 0.35,
			Concentration: 0.25,
			Geographic:    0.15,
			SPOF:          0.25,
		},
		Thresholds: Thresholds{
			Medium:   25,
			High:     50,
			Critical: 75,
		},
		MaxHops:           5,
		MaxPaths:          8,
		MaxVisited:        10_000,
		TopCounterparties: 5,
		TraversalTimeout:  5 * time.Second,
	}
}

// Validate rejects invalid weights, thresholds, and limits. Configuration
// errors are fatal and surface before any traversal begins.
func (c Config) Validate() error {
	sum := c.Weights.PathDiversity + c.Weights.Concentration + c.Weights.Geographic + c.Weights.SPOF
	for name, w := range map[string]float64{
		"path_diversity": c.Weights.PathDiversity,
		"concentration":  c.Weights.Concentration,
		"geographic":     c.Weights.Geographic,
		"spof":           c.Weights.SPOF,
	} {
		if w < 0 {
			return fmt.Errorf("%w: weight %s is negative", ErrInvalidConfiguration, name)
		}
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("%w: weights sum to %.3f, want 1.0", ErrInvalidConfiguration, sum)
	}
	if !(c.Thresholds.Medium > 0 && c.Thresholds.Medium < c.Thresholds.High && c.Thresholds.High < c.Thresholds.Critical && c.Thresholds.Critical <= 100) {
		return fmt.Errorf("%w: thresholds must satisfy 0 < medium < high < critical <= 100", ErrInvalidConfiguration)
	}
	if c.MaxHops <= 0 || c.MaxPaths <= 0 || c.MaxVisited <= 0 {
		return fmt.Errorf("%w: hop, path, and work limits must be positive", ErrInvalidConfiguration)
	}
	if c.TopCounterparties <= 0 {
		return fmt.Errorf("%w: top_counterparties must be positive", ErrInvalidConfiguration)
	}
	if c.TraversalTimeout <= 0 {
		return fmt.Errorf("%w: traversal_timeout must be positive", ErrInvalidConfiguration)
	}
	return nil
}
