package bttf

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-tensor-forecast/tensor"
)

// sampleWishart draws one matrix from the Wishart distribution with the
// given scale and degrees of freedom using the Bartlett decomposition:
// W = L A Aᵀ Lᵀ with L the Cholesky factor of the scale and A lower
// triangular with chi-distributed diagonal and standard normal
// subdiagonal entries. df must exceed dim-1.
func (s *Sampler) sampleWishart(scale mat.Symmetric, df float64) (*mat.SymDense, error) {
	n := scale.SymmetricDim()
	l, err := tensor.LowerCholesky(scale)
	if err != nil {
		return nil, err
	}
	a := mat.NewTriDense(n, mat.Lower, nil)
	for i := 0; i < n; i++ {
		chi := distuv.ChiSquared{K: df - float64(i), Src: s.rng}
		a.SetTri(i, i, math.Sqrt(chi.Rand()))
		for j := 0; j < i; j++ {
			a.SetTri(i, j, s.rng.NormFloat64())
		}
	}
	var la, w mat.Dense
	la.Mul(l, a)
	w.Mul(&la, la.T())
	return symmetrize(&w), nil
}
