// Package dataset drives the whole pipeline for a training program: it loads the catalog,
// plans splits, and serves prefetched batches from whichever split is current.
package dataset

import (
	"context"
	stderrors "errors"
	"io"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/catalog"
	"github.com/go-sif/cassdl/epoch"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/loader"
	"github.com/go-sif/cassdl/logging"
	"github.com/go-sif/cassdl/planner"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/sirupsen/logrus"
)

// Options configure a Dataset
type Options struct {
	// Catalog locates row metadata
	Catalog catalog.Options
	// Loader locates payloads. IDColumn, NumClasses and LabelMap default to the catalog's.
	Loader loader.Options
	// Seed is the base of every epoch's shuffle
	Seed int64
	// PrefetchDepth is the number of batches loaded ahead of the consumer, per split
	PrefetchDepth int
	Logger        logrus.FieldLogger
}

// Dataset is a planned, batch-serving view over a table. A Dataset must be driven by a
// single goroutine; its batches are loaded in the background.
type Dataset struct {
	src    cassdl.Source
	opts   Options
	logger logrus.FieldLogger
	base   *loader.Loader

	cat         *catalog.Catalog
	splits      []cassdl.Split
	states      []*epoch.State
	prefetchers []*loader.Prefetcher
	current     int

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Dataset reading from src. The catalog must be loaded, and splits set up,
// before batches can be served.
func New(src cassdl.Source, opts Options) (*Dataset, error) {
	opts.Logger = logging.OrNop(opts.Logger)
	if opts.Catalog.Logger == nil {
		opts.Catalog.Logger = opts.Logger
	}
	if opts.Loader.Logger == nil {
		opts.Loader.Logger = opts.Logger
	}
	if opts.Loader.IDColumn == "" {
		opts.Loader.IDColumn = opts.Catalog.IDColumn
	}
	if opts.Loader.NumClasses == 0 {
		opts.Loader.NumClasses = opts.Catalog.NumClasses
	}
	if opts.Loader.LabelMap == nil {
		opts.Loader.LabelMap = opts.Catalog.LabelMap
	}
	if opts.PrefetchDepth <= 0 {
		opts.PrefetchDepth = loader.DefaultPrefetchDepth
	}
	base, err := loader.New(src, opts.Loader)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dataset{
		src:    src,
		opts:   opts,
		logger: opts.Logger,
		base:   base,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// LoadCatalog reads row metadata from the source, replacing any previous catalog. Existing
// splits are discarded.
func (d *Dataset) LoadCatalog(ctx context.Context) error {
	cat, err := catalog.Load(ctx, d.src, d.opts.Catalog)
	if err != nil {
		return err
	}
	d.UseCatalog(cat)
	return nil
}

// UseCatalog installs a catalog obtained elsewhere, such as a snapshot. Existing splits are
// discarded.
func (d *Dataset) UseCatalog(cat *catalog.Catalog) {
	d.closeSplits()
	d.cat = cat
}

// Catalog returns the current catalog, or nil
func (d *Dataset) Catalog() *catalog.Catalog {
	return d.cat
}

// Setup plans splits over the catalog. Every split starts exhausted: call RewindSplits
// before loading batches.
func (d *Dataset) Setup(cfg *planner.Config, opts planner.Options) error {
	if d.cat == nil {
		return errors.InvalidConfigError{Reason: "catalog must be loaded before splits are set up"}
	}
	if opts.Logger == nil {
		opts.Logger = d.logger
	}
	splits, err := planner.Plan(d.cat, cfg, opts)
	if err != nil {
		return err
	}
	d.closeSplits()
	d.splits = splits
	d.states = make([]*epoch.State, len(splits))
	d.prefetchers = make([]*loader.Prefetcher, len(splits))
	for i, s := range splits {
		d.states[i] = epoch.New(s)
		l := d.base.WithAugmentation(s.Augmentation)
		d.prefetchers[i] = loader.NewPrefetcher(d.ctx, l.Load, d.opts.PrefetchDepth)
	}
	d.current = 0
	for _, line := range planner.Describe(splits, planner.Summarize(d.cat, splits)) {
		d.logger.Info(line)
	}
	return nil
}

func (d *Dataset) closeSplits() {
	for _, p := range d.prefetchers {
		p.Close()
	}
	d.splits, d.states, d.prefetchers = nil, nil, nil
	d.current = 0
}

func (d *Dataset) checkSplit(i int) error {
	if len(d.splits) == 0 {
		return errors.InvalidConfigError{Reason: "splits have not been set up"}
	}
	if i < 0 || i >= len(d.splits) {
		return errors.InvalidConfigf("split %d does not exist, there are %d splits", i, len(d.splits))
	}
	return nil
}

// Splits returns the planned splits
func (d *Dataset) Splits() []cassdl.Split {
	return d.splits
}

// SetBatchSize changes the batch size of every split. The current epoch of every split ends.
func (d *Dataset) SetBatchSize(n int) error {
	if len(d.splits) == 0 {
		return errors.InvalidConfigError{Reason: "splits have not been set up"}
	}
	if n < 1 {
		return errors.InvalidConfigf("batch size must be positive, got %d", n)
	}
	for i, st := range d.states {
		d.prefetchers[i].Reset()
		if err := st.SetBatchSize(n); err != nil {
			return err
		}
		st.Finish()
		d.splits[i].BatchSize = n
	}
	return nil
}

// RewindSplits starts a new epoch on every split
func (d *Dataset) RewindSplits(shuffle bool) error {
	if len(d.splits) == 0 {
		return errors.InvalidConfigError{Reason: "splits have not been set up"}
	}
	for i := range d.splits {
		d.rewind(i, shuffle)
	}
	return nil
}

// RewindSplit starts a new epoch on a single split
func (d *Dataset) RewindSplit(i int, shuffle bool) error {
	if err := d.checkSplit(i); err != nil {
		return err
	}
	d.rewind(i, shuffle)
	return nil
}

func (d *Dataset) rewind(i int, shuffle bool) {
	d.prefetchers[i].Reset()
	st := d.states[i]
	st.Rewind(epoch.DeriveSeed(d.opts.Seed, i, st.Epoch()+1), shuffle)
	d.logger.WithFields(logrus.Fields{"split": d.splits[i].Name, "epoch": st.Epoch()}).Debug("Rewound split")
}

// NumBatches returns the number of batches in an epoch of split i
func (d *Dataset) NumBatches(i int) (int, error) {
	if err := d.checkSplit(i); err != nil {
		return 0, err
	}
	return d.states[i].NumBatches(), nil
}

// SetCurrentSplit selects the split LoadBatch serves
func (d *Dataset) SetCurrentSplit(i int) error {
	if err := d.checkSplit(i); err != nil {
		return err
	}
	d.current = i
	return nil
}

// CurrentSplit returns the index of the split LoadBatch serves
func (d *Dataset) CurrentSplit() int {
	return d.current
}

// LoadBatch returns the next batch of the current split, and schedules the batches after it.
// It fails with an ExhaustedSplitError once the epoch is over.
func (d *Dataset) LoadBatch(ctx context.Context) (*cassdl.Batch, error) {
	if err := d.checkSplit(d.current); err != nil {
		return nil, err
	}
	return d.loadFrom(ctx, d.current)
}

func (d *Dataset) loadFrom(ctx context.Context, i int) (*cassdl.Batch, error) {
	p := d.prefetchers[i]
	if err := d.fill(i); err != nil {
		return nil, err
	}
	batch, err := p.Next(ctx)
	if stderrors.Is(err, loader.ErrNothingScheduled) {
		return nil, errors.ExhaustedSplitError{Split: d.splits[i].Name}
	}
	if err != nil {
		return nil, err
	}
	if err := d.fill(i); err != nil {
		return nil, err
	}
	return batch, nil
}

// IgnoreBatch skips the next batch of the current split without waiting for it to decode
func (d *Dataset) IgnoreBatch() error {
	if err := d.checkSplit(d.current); err != nil {
		return err
	}
	if d.prefetchers[d.current].Ignore() {
		return d.fill(d.current)
	}
	_, err := d.states[d.current].NextBatch()
	return err
}

// fill schedules batches of split i until its prefetcher is full or the epoch runs out
func (d *Dataset) fill(i int) error {
	p := d.prefetchers[i]
	for !p.Full() {
		ids, err := d.states[i].NextBatch()
		var ese errors.ExhaustedSplitError
		if stderrors.As(err, &ese) {
			return nil
		} else if err != nil {
			return err
		}
		if err := p.Schedule(ids); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background loading. The Dataset cannot serve batches afterwards.
func (d *Dataset) Close() {
	d.cancel()
	d.closeSplits()
}

// TrainDataset adapts one split of a Dataset to a gomlx training loop. Each Yield returns one
// batch, and io.EOF marks the end of an epoch.
type TrainDataset struct {
	d       *Dataset
	split   int
	shuffle bool
}

var _ train.Dataset = (*TrainDataset)(nil)

// TrainDataset returns a gomlx view over split i. The split is rewound if it has never been.
func (d *Dataset) TrainDataset(i int, shuffle bool) (*TrainDataset, error) {
	if err := d.checkSplit(i); err != nil {
		return nil, err
	}
	if d.states[i].Epoch() == 0 {
		d.rewind(i, shuffle)
	}
	return &TrainDataset{d: d, split: i, shuffle: shuffle}, nil
}

// Name implements train.Dataset.
func (t *TrainDataset) Name() string {
	return t.d.splits[t.split].Name
}

// Yield implements train.Dataset. Inputs hold one tensor shaped [batch, channels, height,
// width], labels one one-hot tensor shaped [batch, classes].
func (t *TrainDataset) Yield() (spec any, inputs, labels []*tensors.Tensor, err error) {
	batch, err := t.d.loadFrom(t.d.ctx, t.split)
	var ese errors.ExhaustedSplitError
	if stderrors.As(err, &ese) {
		return nil, nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, nil, err
	}
	in, lab := batch.Tensors()
	return t, []*tensors.Tensor{in}, []*tensors.Tensor{lab}, nil
}

// Reset implements train.Dataset, starting a new epoch of the split
func (t *TrainDataset) Reset() {
	t.d.rewind(t.split, t.shuffle)
}
