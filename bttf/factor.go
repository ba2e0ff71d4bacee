package bttf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/n0madic/go-tensor-forecast/tensor"
)

// sampleFactorHyper draws the shared Normal-Wishart hyperparameters for one
// factor matrix: a precision matrix from the Wishart posterior combining the
// identity prior scale, the empirical scatter of f and the mean-shrinkage
// correction, and a mean vector from the resulting Gaussian.
func (s *Sampler) sampleFactorHyper(f *mat.Dense) (*mat.SymDense, []float64, error) {
	rows, r := f.Dims()
	n := float64(rows)

	bar := make([]float64, r)
	for i := 0; i < rows; i++ {
		for j := 0; j < r; j++ {
			bar[j] += f.At(i, j)
		}
	}
	for j := range bar {
		bar[j] /= n
	}

	// Posterior scale: inv(W0^-1 + scatter + n*beta0/(n+beta0)*(bar)(bar)^T)
	// with W0 = I and prior mean zero.
	scaleInv := tensor.Scatter(f)
	scaleInv.SymRankOne(scaleInv, n*s.beta0/(n+s.beta0), mat.NewVecDense(r, bar))
	for i := 0; i < r; i++ {
		scaleInv.SetSym(i, i, scaleInv.At(i, i)+1)
	}
	var chol mat.Cholesky
	if !chol.Factorize(scaleInv) {
		return nil, nil, fmt.Errorf("factor hyperprior scale: %w", tensor.ErrNotPositiveDefinite)
	}
	scale := mat.NewSymDense(r, nil)
	if err := chol.InverseTo(scale); err != nil {
		return nil, nil, fmt.Errorf("factor hyperprior scale: %w", err)
	}

	lambda, err := s.sampleWishart(scale, n+float64(s.cfg.Rank))
	if err != nil {
		return nil, nil, fmt.Errorf("factor precision draw: %w", err)
	}

	// Mean draw: N(n*bar/(n+beta0), ((n+beta0)*Lambda)^-1), prior mean zero.
	loc := make([]float64, r)
	for j := range loc {
		loc[j] = n * bar[j] / (n + s.beta0)
	}
	prec := mat.NewSymDense(r, nil)
	prec.ScaleSym(n+s.beta0, lambda)
	norm, ok := distmv.NewNormalPrecision(loc, prec, s.rng)
	if !ok {
		return nil, nil, fmt.Errorf("factor mean draw: %w", tensor.ErrNotPositiveDefinite)
	}
	return lambda, norm.Rand(nil), nil
}

// sampleFactorRows redraws every row of f from its Gaussian conditional.
// design holds one row per column of the mode unfolding (the Khatri-Rao
// product of the other two factors); obs and maskRow are the matching
// unfoldings of the observed tensor and its indicator. Rows are conditionally
// independent given the hyperparameters and are updated sequentially.
func (s *Sampler) sampleFactorRows(f, design, obs, maskRow *mat.Dense, tau float64, lambda *mat.SymDense, mu []float64) error {
	rows, r := f.Dims()
	_, ncols := obs.Dims()

	priorRHS := mat.NewVecDense(r, nil)
	priorRHS.MulVec(lambda, mat.NewVecDense(r, mu))

	prec := mat.NewSymDense(r, nil)
	h := make([]float64, r)
	for i := 0; i < rows; i++ {
		prec.CopySym(lambda)
		for j := 0; j < r; j++ {
			h[j] = priorRHS.AtVec(j)
		}
		for c := 0; c < ncols; c++ {
			if maskRow.At(i, c) == 0 {
				continue
			}
			w := design.RowView(c)
			prec.SymRankOne(prec, tau, w)
			y := tau * obs.At(i, c)
			for j := 0; j < r; j++ {
				h[j] += y * w.AtVec(j)
			}
		}
		row, err := s.drawGaussian(h, prec)
		if err != nil {
			return fmt.Errorf("factor row %d: %w", i, err)
		}
		f.SetRow(i, row)
	}
	return nil
}

// drawGaussian samples from the Gaussian with the given precision matrix and
// natural parameter h, i.e. N(prec^-1 h, prec^-1).
func (s *Sampler) drawGaussian(h []float64, prec *mat.SymDense) ([]float64, error) {
	r := len(h)
	var chol mat.Cholesky
	if !chol.Factorize(prec) {
		return nil, tensor.ErrNotPositiveDefinite
	}
	mean := mat.NewVecDense(r, nil)
	if err := chol.SolveVecTo(mean, mat.NewVecDense(r, h)); err != nil {
		return nil, err
	}
	norm, ok := distmv.NewNormalPrecision(mean.RawVector().Data, prec, s.rng)
	if !ok {
		return nil, tensor.ErrNotPositiveDefinite
	}
	return norm.Rand(nil), nil
}
