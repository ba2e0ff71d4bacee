// Package rolling implements a rolling multi-step forecast controller on top
// of the bttf Gibbs sampling engine. It slides a forecasting window across
// the time axis, warm-starting the chain between windows, and assembles the
// per-window forecasts into the full horizon together with accuracy metrics.
package rolling

import (
	"fmt"
	"math"
	"math/rand/v2"

	"go.uber.org/zap"

	"github.com/n0madic/go-tensor-forecast/bttf"
	"github.com/n0madic/go-tensor-forecast/tensor"
)

// Config holds the rolling forecast parameters. The cold sweep counts apply
// to the first window, which starts from random factors; the warm counts
// apply to every later window, which starts near the previous posterior mode
// and needs fewer sweeps.
type Config struct {
	Rank     int
	TimeLags []int
	// PredSteps is the total forecast horizon; it must be an exact multiple
	// of MultiSteps.
	PredSteps  int
	MultiSteps int

	ColdSweeps  int
	ColdSamples int
	WarmSweeps  int
	WarmSamples int
}

// Validate checks the controller configuration. The divisibility of the
// horizon by the window step is enforced here rather than silently
// truncating the last window.
func (c Config) Validate() error {
	if c.PredSteps < 1 {
		return fmt.Errorf("%w: prediction steps must be positive, got %d", bttf.ErrConfig, c.PredSteps)
	}
	if c.MultiSteps < 1 || c.MultiSteps > c.PredSteps {
		return fmt.Errorf("%w: multi steps must be in [1, %d], got %d",
			bttf.ErrConfig, c.PredSteps, c.MultiSteps)
	}
	if c.PredSteps%c.MultiSteps != 0 {
		return fmt.Errorf("%w: prediction steps %d must be a multiple of multi steps %d",
			bttf.ErrConfig, c.PredSteps, c.MultiSteps)
	}
	cold := bttf.Config{
		Rank: c.Rank, TimeLags: c.TimeLags, MultiSteps: c.MultiSteps,
		Sweeps: c.ColdSweeps, Samples: c.ColdSamples,
	}
	if err := cold.Validate(); err != nil {
		return fmt.Errorf("cold window: %w", err)
	}
	warm := cold
	warm.Sweeps, warm.Samples = c.WarmSweeps, c.WarmSamples
	if err := warm.Validate(); err != nil {
		return fmt.Errorf("warm window: %w", err)
	}
	return nil
}

// Result holds the assembled forecast and its accuracy against the ground
// truth over the horizon, restricted to nonzero ground-truth cells.
type Result struct {
	// Forecast has shape (dim1, dim2, PredSteps).
	Forecast   *tensor.Dense
	MAPE, RMSE float64
}

// Option configures a Forecaster.
type Option func(*Forecaster)

// WithLogger sets the logger passed down to each window's engine.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Forecaster) {
		f.logger = logger
	}
}

// Forecaster runs the rolling forecast protocol. Window seeds are derived
// from a single seeded source, so a fixed seed reproduces the whole run.
type Forecaster struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger
}

// New creates a Forecaster. A zero seed picks a random one.
func New(cfg Config, seed uint64, opts ...Option) (*Forecaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	f := &Forecaster{
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(seed, seed)),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Run forecasts the final PredSteps time slices of the tensor pair. Each
// window invokes the engine on the series truncated to the window's end; the
// first window starts from random factors, later windows reuse the previous
// window's converged U, V and extended X, whose length is exactly the next
// window's time dimension.
func (f *Forecaster) Run(dense, sparse *tensor.Dense) (*Result, error) {
	dim1, dim2, dim3 := sparse.Dims()
	g1, g2, g3 := dense.Dims()
	if dim1 != g1 || dim2 != g2 || dim3 != g3 {
		return nil, fmt.Errorf("%w: dense (%d, %d, %d) vs sparse (%d, %d, %d)",
			bttf.ErrShapeMismatch, g1, g2, g3, dim1, dim2, dim3)
	}
	start := dim3 - f.cfg.PredSteps
	maxLag := f.cfg.TimeLags[len(f.cfg.TimeLags)-1]
	if start <= maxLag {
		return nil, fmt.Errorf("%w: horizon %d leaves only %d training steps for max lag %d",
			bttf.ErrConfig, f.cfg.PredSteps, start, maxLag)
	}

	windows := f.cfg.PredSteps / f.cfg.MultiSteps
	out := tensor.NewDense(dim1, dim2, f.cfg.PredSteps)
	var state *bttf.State
	for w := 0; w < windows; w++ {
		limit := start + w*f.cfg.MultiSteps
		denseW, err := dense.TimeSlice(0, limit)
		if err != nil {
			return nil, err
		}
		sparseW, err := sparse.TimeSlice(0, limit)
		if err != nil {
			return nil, err
		}

		cfg := bttf.Config{
			Rank:       f.cfg.Rank,
			TimeLags:   f.cfg.TimeLags,
			MultiSteps: f.cfg.MultiSteps,
			Sweeps:     f.cfg.ColdSweeps,
			Samples:    f.cfg.ColdSamples,
		}
		if w > 0 {
			cfg.Sweeps, cfg.Samples = f.cfg.WarmSweeps, f.cfg.WarmSamples
		}
		engine, err := bttf.New(cfg, f.rng.Uint64()|1, bttf.WithLogger(f.logger))
		if err != nil {
			return nil, err
		}
		if w == 0 {
			state = engine.RandomState(dim1, dim2, limit)
		}
		res, err := engine.Run(denseW, sparseW, state)
		if err != nil {
			return nil, fmt.Errorf("window %d: %w", w, err)
		}
		state = &bttf.State{U: res.U, V: res.V, X: res.X}

		for h := 0; h < f.cfg.MultiSteps; h++ {
			for j := 0; j < dim2; j++ {
				for i := 0; i < dim1; i++ {
					out.Set(i, j, w*f.cfg.MultiSteps+h, res.Forecast.At(i, j, h))
				}
			}
		}
		f.logger.Info("window complete",
			zap.Int("window", w),
			zap.Int("trained_steps", limit),
			zap.Float64("tau", res.Tau))
	}

	actual, err := dense.TimeSlice(start, dim3)
	if err != nil {
		return nil, err
	}
	mape, rmse := horizonMetrics(actual, out)
	return &Result{Forecast: out, MAPE: mape, RMSE: rmse}, nil
}

// horizonMetrics computes MAPE and RMSE between the forecast and the actual
// horizon over cells with nonzero actual values; zero cells are absent from
// the source domain and carry no error.
func horizonMetrics(actual, forecast *tensor.Dense) (mape, rmse float64) {
	dim1, dim2, dim3 := actual.Dims()
	n := 0
	sumRatio, sumSq := 0.0, 0.0
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				a := actual.At(i, j, k)
				if a == 0 {
					continue
				}
				diff := a - forecast.At(i, j, k)
				sumRatio += math.Abs(diff / a)
				sumSq += diff * diff
				n++
			}
		}
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	return sumRatio / float64(n), math.Sqrt(sumSq / float64(n))
}
