// Package bttf implements Bayesian Temporal Tensor Factorization: a low-rank
// CP decomposition of a three-way spatiotemporal tensor whose temporal factor
// evolves under a learned vector-autoregressive process, fit by Gibbs
// sampling with conjugate priors. It imputes missing entries and forecasts
// the temporal factor forward for a fixed horizon.
package bttf

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-tensor-forecast/tensor"
)

var (
	// ErrConfig is returned for an invalid configuration, before any
	// sampling starts.
	ErrConfig = errors.New("bttf: invalid configuration")
	// ErrShapeMismatch is returned when the supplied tensors or initial
	// factors do not agree in shape.
	ErrShapeMismatch = errors.New("bttf: shape mismatch")
)

const (
	// diagnosticInterval is how often, in warmup sweeps, the held-out RMSE
	// diagnostic is logged.
	diagnosticInterval = 200
	// minSweepsForMetrics is the minimum number of total sweeps below which
	// the final imputation metrics are considered too noisy to report.
	minSweepsForMetrics = 100
)

// Config holds the sampling parameters for one engine invocation.
type Config struct {
	// Rank is the latent dimension of the factor matrices.
	Rank int
	// TimeLags is the ordered set of distinct positive VAR lags.
	TimeLags []int
	// MultiSteps is the number of future time steps to extrapolate after
	// the chain has converged.
	MultiSteps int
	// Sweeps is the total number of Gibbs sweeps.
	Sweeps int
	// Samples is the number of trailing sweeps averaged into the posterior
	// mean estimates; the first Sweeps-Samples sweeps are burn-in.
	Samples int
}

// Validate checks the configuration, returning ErrConfig with details on the
// first violation.
func (c Config) Validate() error {
	if c.Rank < 1 {
		return fmt.Errorf("%w: rank must be positive, got %d", ErrConfig, c.Rank)
	}
	if len(c.TimeLags) == 0 {
		return fmt.Errorf("%w: at least one time lag is required", ErrConfig)
	}
	prev := 0
	for _, lag := range c.TimeLags {
		if lag <= prev {
			return fmt.Errorf("%w: time lags must be distinct, positive and ascending, got %v",
				ErrConfig, c.TimeLags)
		}
		prev = lag
	}
	if c.MultiSteps < 1 {
		return fmt.Errorf("%w: multi steps must be positive, got %d", ErrConfig, c.MultiSteps)
	}
	if c.Sweeps < 1 {
		return fmt.Errorf("%w: sweep count must be positive, got %d", ErrConfig, c.Sweeps)
	}
	if c.Samples < 1 || c.Samples > c.Sweeps {
		return fmt.Errorf("%w: sample sweeps must be in [1, %d], got %d",
			ErrConfig, c.Sweeps, c.Samples)
	}
	return nil
}

// State carries the factor matrices used to start a chain: either small
// random values for a cold start or the converged factors of a previous
// window for a warm start. X must have one row per time step of the tensor
// the chain will run on.
type State struct {
	U *mat.Dense
	V *mat.Dense
	X *mat.Dense
}

// Result holds the point estimates of one engine invocation.
type Result struct {
	// Forecast is the (dim1, dim2, MultiSteps) slice of the CP
	// reconstruction over the extrapolated horizon.
	Forecast *tensor.Dense
	// U, V are the posterior-mean spatial factors; X is the posterior-mean
	// temporal factor extended by MultiSteps extrapolated rows.
	U, V, X *mat.Dense
	// A is the posterior-mean VAR coefficient tensor, rank x rank x lags.
	A *tensor.Dense
	// Tau is the last sampled noise precision.
	Tau float64
	// MAPE and RMSE are imputation metrics over the held-out positions
	// (nonzero in the ground truth, zero in the observations). They are
	// only meaningful when MetricsReported is true: short chains and empty
	// held-out sets omit them.
	MAPE, RMSE      float64
	MetricsReported bool
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithLogger sets the logger used for sweep diagnostics. The default is a
// no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sampler) {
		s.logger = logger
	}
}

// WithGammaPrior overrides the shape and rate of the Gamma prior on the
// noise precision.
func WithGammaPrior(shape, rate float64) Option {
	return func(s *Sampler) {
		s.gammaShape = shape
		s.gammaRate = rate
	}
}

// Sampler is the Gibbs sampling engine. All mutable chain state lives in a
// single Run invocation; the Sampler itself only carries configuration, the
// random source and the fixed hyperparameters, so it can be reused across
// windows.
type Sampler struct {
	cfg    Config
	rng    *rand.Rand
	logger *zap.Logger

	beta0      float64 // mean pseudo-count of the Normal-Wishart prior
	gammaShape float64
	gammaRate  float64
}

// New creates a Sampler with the given configuration. A zero seed picks a
// random one; any other value makes every draw of the chain reproducible.
func New(cfg Config, seed uint64, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	s := &Sampler{
		cfg:        cfg,
		rng:        rand.New(rand.NewPCG(seed, seed)),
		logger:     zap.NewNop(),
		beta0:      1,
		gammaShape: 1e-6,
		gammaRate:  1e-6,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// RandomState builds a cold-start State with factor entries drawn from
// 0.1*N(0, 1).
func (s *Sampler) RandomState(dim1, dim2, dim3 int) *State {
	randn := func(rows, cols int) *mat.Dense {
		m := mat.NewDense(rows, cols, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				m.Set(i, j, 0.1*s.rng.NormFloat64())
			}
		}
		return m
	}
	return &State{
		U: randn(dim1, s.cfg.Rank),
		V: randn(dim2, s.cfg.Rank),
		X: randn(dim3, s.cfg.Rank),
	}
}

// validateInputs checks the tensor pair and initial state against the
// configuration before any sampling happens.
func (s *Sampler) validateInputs(dense, sparse *tensor.Dense, init *State) error {
	d1, d2, d3 := sparse.Dims()
	g1, g2, g3 := dense.Dims()
	if d1 != g1 || d2 != g2 || d3 != g3 {
		return fmt.Errorf("%w: dense (%d, %d, %d) vs sparse (%d, %d, %d)",
			ErrShapeMismatch, g1, g2, g3, d1, d2, d3)
	}
	r := s.cfg.Rank
	if r > d1 || r > d2 {
		return fmt.Errorf("%w: rank %d exceeds spatial dimensions (%d, %d)", ErrConfig, r, d1, d2)
	}
	maxLag := s.cfg.TimeLags[len(s.cfg.TimeLags)-1]
	if maxLag >= d3 {
		return fmt.Errorf("%w: max lag %d must be smaller than %d time steps", ErrConfig, maxLag, d3)
	}
	if init == nil || init.U == nil || init.V == nil || init.X == nil {
		return fmt.Errorf("%w: initial state must provide U, V and X", ErrConfig)
	}
	for _, f := range []struct {
		name string
		m    *mat.Dense
		rows int
	}{
		{"U", init.U, d1},
		{"V", init.V, d2},
		{"X", init.X, d3},
	} {
		rows, cols := f.m.Dims()
		if rows != f.rows || cols != r {
			return fmt.Errorf("%w: initial %s is %dx%d, want %dx%d",
				ErrShapeMismatch, f.name, rows, cols, f.rows, r)
		}
	}
	return nil
}
