// Package loader assembles batches of samples: one bulk fetch per batch, then parallel
// decoding and augmentation, preserving the order of the requested ids.
package loader

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-sif/cassdl"
	"github.com/go-sif/cassdl/decode"
	"github.com/go-sif/cassdl/errors"
	"github.com/go-sif/cassdl/internal/util"
	"github.com/go-sif/cassdl/logging"
	"github.com/go-sif/cassdl/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Options configure a Loader
type Options struct {
	Table       string
	IDColumn    string
	LabelColumn string // defaults to "label"
	DataColumn  string // defaults to "data"
	NumClasses  int
	Channels    int // 3 for RGB, 1 for grayscale; defaults to 3
	// Decoder turns payloads into images. Defaults to decode.New with Channels.
	Decoder      cassdl.Decoder
	Augmentation cassdl.Augmentation
	// LabelMap, if non-nil, translates stored labels before they are validated
	LabelMap map[int]int
	// SmoothEps enables label smoothing of one-hot labels
	SmoothEps float32
	// Parallelism bounds concurrent decoding. Defaults to the number of CPUs.
	Parallelism int
	// Seed seeds augmentation randomness. Each batch derives its own generators from it.
	Seed   int64
	Logger logrus.FieldLogger
}

func (o *Options) ensureDefaults() error {
	if o.Table == "" || o.IDColumn == "" {
		return errors.InvalidConfigError{Reason: "loader table and id column must be set"}
	}
	if o.LabelColumn == "" {
		o.LabelColumn = "label"
	}
	if o.DataColumn == "" {
		o.DataColumn = "data"
	}
	if o.NumClasses < 1 {
		return errors.InvalidConfigf("num_classes must be at least 1, got %d", o.NumClasses)
	}
	if o.Channels == 0 {
		o.Channels = 3
	}
	if o.Decoder == nil {
		d, err := decode.New(decode.Options{Channels: o.Channels})
		if err != nil {
			return err
		}
		o.Decoder = d
	}
	if o.Augmentation == nil {
		o.Augmentation = cassdl.Identity
	}
	if o.SmoothEps < 0 || o.SmoothEps >= 1 {
		return errors.InvalidConfigf("label smoothing must be in [0, 1), got %v", o.SmoothEps)
	}
	if o.Parallelism <= 0 {
		o.Parallelism = runtime.NumCPU()
	}
	o.Logger = logging.OrNop(o.Logger)
	return nil
}

// Loader turns lists of ids into Batches. A Loader is safe for concurrent use.
type Loader struct {
	src     cassdl.Source
	opts    Options
	query   cassdl.FetchQuery
	batches int64
}

// New creates a Loader reading payloads from src
func New(src cassdl.Source, opts Options) (*Loader, error) {
	if err := opts.ensureDefaults(); err != nil {
		return nil, err
	}
	return &Loader{
		src:  src,
		opts: opts,
		query: cassdl.FetchQuery{
			Table:       opts.Table,
			IDColumn:    opts.IDColumn,
			LabelColumn: opts.LabelColumn,
			DataColumn:  opts.DataColumn,
		},
	}, nil
}

// WithAugmentation returns a Loader sharing this Loader's source and options, but applying aug
func (l *Loader) WithAugmentation(aug cassdl.Augmentation) *Loader {
	cp := *l
	if aug == nil {
		aug = cassdl.Identity
	}
	cp.opts.Augmentation = aug
	return &cp
}

// Load fetches, decodes and augments the samples for ids. Samples appear in the order of ids.
// A missing id, or a payload which cannot be decoded, fails the whole batch with a
// MissingSampleError.
func (l *Loader) Load(ctx context.Context, ids []cassdl.RowID) (*cassdl.Batch, error) {
	n := atomic.AddInt64(&l.batches, 1)
	return l.load(ctx, ids, l.opts.Seed+n)
}

// LoadSeeded is Load with an explicit augmentation seed
func (l *Loader) LoadSeeded(ctx context.Context, ids []cassdl.RowID, seed int64) (*cassdl.Batch, error) {
	return l.load(ctx, ids, seed)
}

func (l *Loader) load(ctx context.Context, ids []cassdl.RowID, seed int64) (*cassdl.Batch, error) {
	batch := &cassdl.Batch{
		IDs:        append([]cassdl.RowID(nil), ids...),
		Inputs:     make([][]float32, len(ids)),
		Labels:     make([]int, len(ids)),
		NumClasses: l.opts.NumClasses,
		SmoothEps:  l.opts.SmoothEps,
	}
	if len(ids) == 0 {
		return batch, nil
	}

	start := time.Now()
	samples, err := l.src.Fetch(ctx, l.query, ids)
	metrics.HistogramFetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.CounterFetchedSamples.Add(float64(len(samples)))
	for _, id := range ids {
		if _, ok := samples[id]; !ok {
			return nil, errors.MissingSampleError{ID: id}
		}
	}

	shapes := make([][]int, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Parallelism)
	for i := range ids {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			id := ids[i]
			rng := rand.New(rand.NewSource(seed ^ int64(i+1)*0x5851f42d4c957f2d))
			err := util.SafeOperation(id, func() error {
				input, shape, label, err := l.sample(id, samples[id], rng)
				if err != nil {
					return err
				}
				batch.Inputs[i] = input
				batch.Labels[i] = label
				shapes[i] = shape
				return nil
			})()
			if err != nil {
				return asMissing(id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	batch.Shape = shapes[0]
	for i, s := range shapes {
		if !sameShape(s, batch.Shape) {
			return nil, errors.MissingSampleError{
				ID:    ids[i],
				Cause: fmt.Errorf("sample shape %v differs from batch shape %v", s, batch.Shape),
			}
		}
	}
	metrics.CounterLoadedBatches.WithLabelValues(l.opts.Table).Inc()
	l.opts.Logger.WithFields(logrus.Fields{"table": l.opts.Table, "samples": len(ids)}).Debug("Loaded batch")
	return batch, nil
}

func (l *Loader) sample(id cassdl.RowID, s cassdl.Sample, rng *rand.Rand) ([]float32, []int, int, error) {
	label := s.Label
	if l.opts.LabelMap != nil {
		mapped, ok := l.opts.LabelMap[label]
		if !ok {
			return nil, nil, 0, errors.MissingSampleError{ID: id, Cause: fmt.Errorf("label %d is not in the label map", label)}
		}
		label = mapped
	}
	if label < 0 || label >= l.opts.NumClasses {
		return nil, nil, 0, errors.MissingSampleError{ID: id, Cause: fmt.Errorf("label %d is outside [0, %d)", label, l.opts.NumClasses)}
	}
	img, err := l.opts.Decoder.Decode(s.Payload)
	if err != nil {
		return nil, nil, 0, errors.MissingSampleError{ID: id, Cause: err}
	}
	img = l.opts.Augmentation.Apply(img, rng)
	input, shape := decode.ToCHW(img, l.opts.Channels)
	return input, shape, label, nil
}

// asMissing unwraps the MissingSampleError behind a sample failure, or attributes any other
// failure (such as a recovered panic) to the sample's id
func asMissing(id cassdl.RowID, err error) error {
	var mse errors.MissingSampleError
	if stderrors.As(err, &mse) {
		return mse
	}
	return errors.MissingSampleError{ID: id, Cause: err}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
