package bttf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-tensor-forecast/tensor"
)

// sampleVARCoefficients runs the conjugate Matrix-Normal-Inverse-Wishart
// update for the VAR coefficient tensor given the current temporal factor X.
// It regresses X[t] on the concatenated lagged rows X[t-lag] for all t with a
// full lag window, draws the innovation precision from the induced Wishart
// and the coefficients from the Matrix-Normal posterior.
//
// The returned coefficient matrix is the rank x rank*d mode-0 unfolding of
// the coefficient tensor; lambdaX is the sampled innovation precision.
func (s *Sampler) sampleVARCoefficients(x *mat.Dense) (coef *mat.Dense, lambdaX *mat.SymDense, err error) {
	dim3, r := x.Dims()
	lags := s.cfg.TimeLags
	d := len(lags)
	maxLag := lags[d-1]
	nObs := dim3 - maxLag
	rd := r * d

	// Lagged design Q and dependent matrix Z, priors M0 = 0, Psi0 = I,
	// S0 = I, nu0 = rank.
	q := mat.NewDense(nObs, rd, nil)
	z := mat.NewDense(nObs, r, nil)
	for t := maxLag; t < dim3; t++ {
		for k, lag := range lags {
			for j := 0; j < r; j++ {
				q.Set(t-maxLag, j+k*r, x.At(t-lag, j))
			}
		}
		for j := 0; j < r; j++ {
			z.Set(t-maxLag, j, x.At(t, j))
		}
	}

	// Posterior row covariance Psi = inv(I + Q^T Q).
	var qtq mat.Dense
	qtq.Mul(q.T(), q)
	psiInv := symmetrize(&qtq)
	for i := 0; i < rd; i++ {
		psiInv.SetSym(i, i, psiInv.At(i, i)+1)
	}
	var chol mat.Cholesky
	if !chol.Factorize(psiInv) {
		return nil, nil, fmt.Errorf("coefficient posterior covariance: %w", tensor.ErrNotPositiveDefinite)
	}
	psi := mat.NewSymDense(rd, nil)
	if err := chol.InverseTo(psi); err != nil {
		return nil, nil, fmt.Errorf("coefficient posterior covariance: %w", err)
	}

	// Posterior mean M = Psi Q^T Z.
	var qtz, m mat.Dense
	qtz.Mul(q.T(), z)
	m.Mul(psi, &qtz)

	// Posterior scale S = I + Z^T Z - M^T Psi^-1 M; the cross term reduces
	// to (Q^T Z)^T M with a zero prior mean.
	var ztz, cross mat.Dense
	ztz.Mul(z.T(), z)
	cross.Mul(qtz.T(), &m)
	var sd mat.Dense
	sd.Sub(&ztz, &cross)
	scale := symmetrize(&sd)
	for i := 0; i < r; i++ {
		scale.SetSym(i, i, scale.At(i, i)+1)
	}

	// Innovation precision ~ Wishart(S^-1, nu0+n), equivalently the
	// covariance is Inverse-Wishart(S, nu0+n).
	if !chol.Factorize(scale) {
		return nil, nil, fmt.Errorf("innovation scale: %w", tensor.ErrNotPositiveDefinite)
	}
	scaleInv := mat.NewSymDense(r, nil)
	if err := chol.InverseTo(scaleInv); err != nil {
		return nil, nil, fmt.Errorf("innovation scale: %w", err)
	}
	lambdaX, err = s.sampleWishart(scaleInv, float64(s.cfg.Rank+nObs))
	if err != nil {
		return nil, nil, fmt.Errorf("innovation precision draw: %w", err)
	}
	if !chol.Factorize(lambdaX) {
		return nil, nil, fmt.Errorf("innovation covariance: %w", tensor.ErrNotPositiveDefinite)
	}
	sigma := mat.NewSymDense(r, nil)
	if err := chol.InverseTo(sigma); err != nil {
		return nil, nil, fmt.Errorf("innovation covariance: %w", err)
	}

	// Coefficient draw ~ MN(M, Psi, Sigma); its transpose is the mode-0
	// unfolding of the rank x rank x d coefficient tensor.
	draw, err := tensor.MatrixNormal(&m, psi, sigma, s.rng)
	if err != nil {
		return nil, nil, fmt.Errorf("coefficient draw: %w", err)
	}
	coef = mat.DenseCopyOf(draw.T())
	return coef, lambdaX, nil
}

// symmetrize converts a numerically symmetric dense matrix into a SymDense,
// averaging the off-diagonal pairs.
func symmetrize(m *mat.Dense) *mat.SymDense {
	n, _ := m.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			s.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return s
}
