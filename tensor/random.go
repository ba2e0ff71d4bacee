package tensor

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when a covariance or precision matrix
// cannot be Cholesky factorized, even after diagonal jitter.
var ErrNotPositiveDefinite = errors.New("tensor: matrix is not positive definite")

// LowerCholesky returns the lower-triangular Cholesky factor of s. If the
// factorization fails it retries once with trace-scaled diagonal jitter
// before giving up with ErrNotPositiveDefinite.
func LowerCholesky(s mat.Symmetric) (*mat.TriDense, error) {
	n := s.SymmetricDim()
	var chol mat.Cholesky
	if chol.Factorize(s) {
		l := mat.NewTriDense(n, mat.Lower, nil)
		chol.LTo(l)
		return l, nil
	}

	// Adaptive jitter
	jittered := mat.NewSymDense(n, nil)
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += s.At(i, i)
	}
	eps := 1e-8 * trace / float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			jittered.SetSym(i, j, s.At(i, j))
		}
		jittered.SetSym(i, i, s.At(i, i)+eps)
	}
	if chol.Factorize(jittered) {
		l := mat.NewTriDense(n, mat.Lower, nil)
		chol.LTo(l)
		return l, nil
	}
	return nil, fmt.Errorf("%w: cholesky failed even with jitter", ErrNotPositiveDefinite)
}

// MatrixNormal draws one sample from the matrix-normal distribution with the
// given mean, row covariance and column covariance, computed as
// mean + chol(rowCov)·Z·chol(colCov)ᵀ for a standard normal matrix Z.
func MatrixNormal(mean mat.Matrix, rowCov, colCov mat.Symmetric, rng *rand.Rand) (*mat.Dense, error) {
	rows, cols := mean.Dims()
	if rowCov.SymmetricDim() != rows || colCov.SymmetricDim() != cols {
		return nil, fmt.Errorf("%w: mean %dx%d, row cov %d, col cov %d",
			ErrShape, rows, cols, rowCov.SymmetricDim(), colCov.SymmetricDim())
	}
	lr, err := LowerCholesky(rowCov)
	if err != nil {
		return nil, fmt.Errorf("row covariance: %w", err)
	}
	lc, err := LowerCholesky(colCov)
	if err != nil {
		return nil, fmt.Errorf("column covariance: %w", err)
	}
	z := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			z.Set(i, j, rng.NormFloat64())
		}
	}
	var lz, out mat.Dense
	lz.Mul(lr, z)
	out.Mul(&lz, lc.T())
	out.Add(&out, mean)
	return &out, nil
}
