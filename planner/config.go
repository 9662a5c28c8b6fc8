package planner

import (
	"math"

	"github.com/go-sif/cassdl/errors"
)

// Mode selects how rows are assigned to splits
type Mode int

const (
	// RatioMode assigns rows proportionally to split ratios, optionally balancing classes
	RatioMode Mode = iota
	// BagMode assigns rows to the split whose bag contains their tag
	BagMode
)

// String returns a textual representation of this Mode
func (m Mode) String() string {
	if m == BagMode {
		return "bags"
	}
	return "ratios"
}

// Spec is the raw, unvalidated form of a split configuration. Exactly one of Ratios or Bags
// may be set; Balance is only meaningful alongside Ratios.
type Spec struct {
	Ratios  []float64
	Balance []float64
	Bags    [][]string
}

// Config is a validated split configuration
type Config struct {
	mode    Mode
	ratios  []float64
	balance []float64
	bags    [][]string
	tagBag  map[string]int
}

// NewConfig validates a Spec, rejecting configurations which mix ratio and bag modes
func NewConfig(s Spec) (*Config, error) {
	hasRatios := len(s.Ratios) > 0 || len(s.Balance) > 0
	hasBags := len(s.Bags) > 0
	switch {
	case hasRatios && hasBags:
		return nil, errors.InvalidConfigError{Reason: "ratios/balance and bags are mutually exclusive"}
	case hasBags:
		return NewBagConfig(s.Bags)
	default:
		return NewRatioConfig(s.Ratios, s.Balance)
	}
}

// NewRatioConfig builds a ratio-mode configuration. balance may be nil.
func NewRatioConfig(ratios []float64, balance []float64) (*Config, error) {
	if len(ratios) == 0 {
		return nil, errors.InvalidConfigError{Reason: "at least one split ratio is required"}
	}
	for i, r := range ratios {
		if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
			return nil, errors.InvalidConfigf("ratio %d must be a positive finite number, got %v", i, r)
		}
	}
	if balance != nil {
		positive := false
		for c, b := range balance {
			if math.IsNaN(b) || math.IsInf(b, 0) || b < 0 {
				return nil, errors.InvalidConfigf("balance weight for class %d must be a non-negative finite number, got %v", c, b)
			}
			if b > 0 {
				positive = true
			}
		}
		if !positive {
			return nil, errors.InvalidConfigError{Reason: "at least one balance weight must be positive"}
		}
	}
	return &Config{
		mode:    RatioMode,
		ratios:  append([]float64(nil), ratios...),
		balance: append([]float64(nil), balance...),
	}, nil
}

// NewBagConfig builds a bag-mode configuration. A tag may belong to at most one bag.
func NewBagConfig(bags [][]string) (*Config, error) {
	if len(bags) == 0 {
		return nil, errors.InvalidConfigError{Reason: "at least one bag is required"}
	}
	tagBag := make(map[string]int)
	cp := make([][]string, len(bags))
	for b, bag := range bags {
		cp[b] = append([]string(nil), bag...)
		for _, tag := range bag {
			if prev, ok := tagBag[tag]; ok && prev != b {
				return nil, errors.InvalidConfigf("tag %q appears in bags %d and %d", tag, prev, b)
			}
			tagBag[tag] = b
		}
	}
	return &Config{mode: BagMode, bags: cp, tagBag: tagBag}, nil
}

// Mode returns the assignment mode of this Config
func (c *Config) Mode() Mode {
	return c.mode
}

// NumSplits returns the number of splits this Config produces
func (c *Config) NumSplits() int {
	if c.mode == BagMode {
		return len(c.bags)
	}
	return len(c.ratios)
}

// Ratios returns the split ratios of a ratio-mode Config
func (c *Config) Ratios() []float64 {
	return c.ratios
}

// Balance returns the per-class balance weights, or nil if classes are not balanced
func (c *Config) Balance() []float64 {
	if len(c.balance) == 0 {
		return nil
	}
	return c.balance
}

// Bags returns the tag sets of a bag-mode Config
func (c *Config) Bags() [][]string {
	return c.bags
}
