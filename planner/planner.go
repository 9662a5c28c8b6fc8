// Package planner assigns every row of a catalog to at most one named split, either
// proportionally to split ratios with optional class balancing, or by bag membership.
package planner

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/catalog"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/logging"
	"github.com/go-sif/cassdl/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultBatchSize is the batch size given to splits when Options.BatchSize is not set
const DefaultBatchSize = 8

// Options control the splits produced by Plan, beyond row membership
type Options struct {
	// Names of the splits, by index. Defaults to split0, split1, ...
	Names []string
	// Augmentations applied to each split, by index. Missing or nil entries mean no augmentation.
	Augmentations []cassdl.Augmentation
	BatchSize     int
	// UnitSeed, if non-zero, permutes the units of each class before they are dealt to splits.
	// With zero, units are dealt in catalog order.
	UnitSeed int64
	Logger   logrus.FieldLogger
}

func (o *Options) ensureDefaults(numSplits int) error {
	if o.Names == nil {
		o.Names = make([]string, numSplits)
		for i := range o.Names {
			o.Names[i] = "split" + strconv.Itoa(i)
		}
	}
	if len(o.Names) != numSplits {
		return errors.InvalidConfigf("%d split names given for %d splits", len(o.Names), numSplits)
	}
	seen := make(map[string]bool, numSplits)
	for _, n := range o.Names {
		if seen[n] {
			return errors.InvalidConfigf("split name %q is used twice", n)
		}
		seen[n] = true
	}
	if len(o.Augmentations) > numSplits {
		return errors.InvalidConfigf("%d augmentations given for %d splits", len(o.Augmentations), numSplits)
	}
	if o.BatchSize < 0 {
		return errors.InvalidConfigf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	o.Logger = logging.OrNop(o.Logger)
	return nil
}

// Plan assigns rows of cat to splits according to cfg. The result is deterministic for a given
// catalog, configuration and Options.UnitSeed.
func Plan(cat *catalog.Catalog, cfg *Config, opts Options) ([]cassdl.Split, error) {
	if cfg == nil {
		return nil, errors.InvalidConfigError{Reason: "split configuration is required"}
	}
	if err := opts.ensureDefaults(cfg.NumSplits()); err != nil {
		return nil, err
	}
	var members [][]cassdl.RowID
	var err error
	if cfg.Mode() == BagMode {
		members = planBags(cat, cfg, opts.Logger)
	} else {
		members, err = planRatios(cat, cfg, opts)
		if err != nil {
			return nil, err
		}
	}
	total := 0
	splits := make([]cassdl.Split, len(members))
	for i, ids := range members {
		aug := cassdl.Identity
		if i < len(opts.Augmentations) && opts.Augmentations[i] != nil {
			aug = opts.Augmentations[i]
		}
		splits[i] = cassdl.Split{
			Index:        i,
			Name:         opts.Names[i],
			IDs:          ids,
			Augmentation: aug,
			BatchSize:    opts.BatchSize,
		}
		total += len(ids)
		opts.Logger.WithFields(logrus.Fields{"split": opts.Names[i], "rows": len(ids)}).Info("Planned split")
	}
	if total == 0 {
		return nil, errors.EmptyDatasetError{Table: cat.Table()}
	}
	return splits, nil
}

func planRatios(cat *catalog.Catalog, cfg *Config, opts Options) ([][]cassdl.RowID, error) {
	numClasses := cat.NumClasses()
	balance := cfg.Balance()
	if balance != nil && len(balance) != numClasses {
		return nil, errors.InvalidConfigf("%d balance weights given for %d classes", len(balance), numClasses)
	}
	units := buildUnits(cat)
	byClass := retain(units, numClasses, balance, opts.Logger)

	classTotals := make([]int, numClasses)
	retained := 0
	for c, us := range byClass {
		classTotals[c] = len(us)
		retained += len(us)
	}
	splitTotals := largestRemainder(retained, cfg.Ratios())
	alloc := controlledRound(classTotals, splitTotals)

	var rng *rand.Rand
	if opts.UnitSeed != 0 {
		rng = rand.New(rand.NewSource(opts.UnitSeed))
	}
	assigned := make([][]*unit, len(splitTotals))
	for c, us := range byClass {
		if rng != nil {
			rng.Shuffle(len(us), func(i, j int) { us[i], us[j] = us[j], us[i] })
		}
		next := 0
		for s := range splitTotals {
			n := alloc[c][s]
			assigned[s] = append(assigned[s], us[next:next+n]...)
			next += n
		}
	}
	return expand(cat, assigned), nil
}

// retain applies class balancing. Units are grouped by key class; with a balance vector, each
// class keeps units in catalog order as long as they fit its row quota, and the rest are
// discarded.
func retain(units []*unit, numClasses int, balance []float64, logger logrus.FieldLogger) [][]*unit {
	byClass := make([][]*unit, numClasses)
	if balance == nil {
		for _, u := range units {
			byClass[u.class] = append(byClass[u.class], u)
		}
		return byClass
	}
	supply := make([]int, numClasses)
	for _, u := range units {
		supply[u.class] += len(u.ids)
	}
	quota := rowQuotas(supply, balance)
	used := make([]int, numClasses)
	discarded := make([]int, numClasses)
	for _, u := range units {
		c := u.class
		if used[c]+len(u.ids) <= quota[c] {
			byClass[c] = append(byClass[c], u)
			used[c] += len(u.ids)
		} else {
			discarded[c] += len(u.ids)
		}
	}
	for c, n := range discarded {
		if n == 0 {
			continue
		}
		metrics.CounterDiscardedRows.WithLabelValues(strconv.Itoa(c)).Add(float64(n))
		logger.WithFields(logrus.Fields{
			"class":     c,
			"quota":     quota[c],
			"retained":  used[c],
			"discarded": n,
		}).Info("Discarded rows to balance classes")
	}
	return byClass
}

// rowQuotas computes per-class row quotas proportional to balance, scaled so that the most
// constrained weighted class uses its entire supply and no class exceeds its own
func rowQuotas(supply []int, balance []float64) []int {
	scale := math.Inf(1)
	for c, b := range balance {
		if b > 0 {
			scale = math.Min(scale, float64(supply[c])/b)
		}
	}
	quota := make([]int, len(balance))
	for c, b := range balance {
		q := int(math.Floor(scale*b + 1e-9))
		if q > supply[c] {
			q = supply[c]
		}
		quota[c] = q
	}
	return quota
}

// expand turns the units assigned to each split into row ids, ordered by catalog position
func expand(cat *catalog.Catalog, assigned [][]*unit) [][]cassdl.RowID {
	members := make([][]cassdl.RowID, len(assigned))
	for s, us := range assigned {
		var ids []cassdl.RowID
		for _, u := range us {
			ids = append(ids, u.ids...)
		}
		sort.Slice(ids, func(a, b int) bool {
			return cat.Position(ids[a]) < cat.Position(ids[b])
		})
		members[s] = ids
	}
	return members
}

func planBags(cat *catalog.Catalog, cfg *Config, logger logrus.FieldLogger) [][]cassdl.RowID {
	members := make([][]cassdl.RowID, cfg.NumSplits())
	excluded := 0
	for _, row := range cat.Rows() {
		if !row.HasTag {
			excluded++
			continue
		}
		b, ok := cfg.tagBag[row.Tag]
		if !ok {
			excluded++
			continue
		}
		members[b] = append(members[b], row.ID)
	}
	if excluded > 0 {
		metrics.CounterExcludedRows.Add(float64(excluded))
		logger.WithField("excluded", excluded).Info("Excluded rows whose tag matches no bag")
	}
	return members
}

// Summarize counts the rows of each class in each split
func Summarize(cat *catalog.Catalog, splits []cassdl.Split) [][]int {
	counts := make([][]int, len(splits))
	for s, split := range splits {
		counts[s] = make([]int, cat.NumClasses())
		for _, id := range split.IDs {
			if row, ok := cat.Row(id); ok {
				counts[s][row.Label]++
			}
		}
	}
	return counts
}

// Describe renders a split summary as one line per split
func Describe(splits []cassdl.Split, counts [][]int) []string {
	lines := make([]string, len(splits))
	for s, split := range splits {
		lines[s] = fmt.Sprintf("%s: %d rows, per class %v", split.Name, split.Len(), counts[s])
	}
	return lines
}
