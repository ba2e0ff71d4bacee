// Package tensor provides a dense three-way tensor and the algebra
// primitives used by Bayesian temporal tensor factorization: mode-n
// unfolding/folding, the Khatri-Rao product, scatter matrices, CP
// reconstruction and matrix-normal sampling.
package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShape is returned when tensor or matrix dimensions do not match.
	ErrShape = errors.New("tensor: dimension mismatch")
	// ErrMode is returned for an unfolding mode outside {0, 1, 2}.
	ErrMode = errors.New("tensor: mode must be 0, 1 or 2")
)

// Dense is a three-way tensor with dimensions (dim1, dim2, dim3), stored
// column-major: the first index varies fastest. For spatiotemporal data the
// convention is (origin, destination, time).
type Dense struct {
	dim1, dim2, dim3 int
	data             []float64
}

// NewDense creates a zero tensor with the given dimensions.
func NewDense(dim1, dim2, dim3 int) *Dense {
	if dim1 <= 0 || dim2 <= 0 || dim3 <= 0 {
		panic("tensor: non-positive dimension")
	}
	return &Dense{
		dim1: dim1,
		dim2: dim2,
		dim3: dim3,
		data: make([]float64, dim1*dim2*dim3),
	}
}

// Dims returns the tensor dimensions.
func (t *Dense) Dims() (dim1, dim2, dim3 int) {
	return t.dim1, t.dim2, t.dim3
}

// At returns the element at (i, j, k).
func (t *Dense) At(i, j, k int) float64 {
	return t.data[i+j*t.dim1+k*t.dim1*t.dim2]
}

// Set stores v at (i, j, k).
func (t *Dense) Set(i, j, k int, v float64) {
	t.data[i+j*t.dim1+k*t.dim1*t.dim2] = v
}

// Copy returns a deep copy of the tensor.
func (t *Dense) Copy() *Dense {
	c := NewDense(t.dim1, t.dim2, t.dim3)
	copy(c.data, t.data)
	return c
}

// TimeSlice returns a copy of the mode-2 slices in the half-open range
// [from, to).
func (t *Dense) TimeSlice(from, to int) (*Dense, error) {
	if from < 0 || to > t.dim3 || from >= to {
		return nil, fmt.Errorf("%w: time slice [%d, %d) of %d steps", ErrShape, from, to, t.dim3)
	}
	s := NewDense(t.dim1, t.dim2, to-from)
	frame := t.dim1 * t.dim2
	copy(s.data, t.data[from*frame:to*frame])
	return s, nil
}

// NonZeros returns the number of nonzero entries.
func (t *Dense) NonZeros() int {
	n := 0
	for _, v := range t.data {
		if v != 0 {
			n++
		}
	}
	return n
}

// Unfold returns the mode-n unfolding of the tensor: a matrix whose rows are
// indexed by the chosen mode and whose columns enumerate the remaining modes
// in increasing order, earlier mode fastest. Fold inverts it exactly.
func (t *Dense) Unfold(mode int) (*mat.Dense, error) {
	switch mode {
	case 0:
		m := mat.NewDense(t.dim1, t.dim2*t.dim3, nil)
		for k := 0; k < t.dim3; k++ {
			for j := 0; j < t.dim2; j++ {
				for i := 0; i < t.dim1; i++ {
					m.Set(i, j+k*t.dim2, t.At(i, j, k))
				}
			}
		}
		return m, nil
	case 1:
		m := mat.NewDense(t.dim2, t.dim1*t.dim3, nil)
		for k := 0; k < t.dim3; k++ {
			for j := 0; j < t.dim2; j++ {
				for i := 0; i < t.dim1; i++ {
					m.Set(j, i+k*t.dim1, t.At(i, j, k))
				}
			}
		}
		return m, nil
	case 2:
		m := mat.NewDense(t.dim3, t.dim1*t.dim2, nil)
		for k := 0; k < t.dim3; k++ {
			for j := 0; j < t.dim2; j++ {
				for i := 0; i < t.dim1; i++ {
					m.Set(k, i+j*t.dim1, t.At(i, j, k))
				}
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: got %d", ErrMode, mode)
	}
}

// Fold reassembles a tensor of shape (dim1, dim2, dim3) from its mode-n
// unfolding, inverting Unfold for any mode and shape.
func Fold(m *mat.Dense, mode, dim1, dim2, dim3 int) (*Dense, error) {
	r, c := m.Dims()
	dims := [3]int{dim1, dim2, dim3}
	if mode < 0 || mode > 2 {
		return nil, fmt.Errorf("%w: got %d", ErrMode, mode)
	}
	if r != dims[mode] || c != dim1*dim2*dim3/dims[mode] {
		return nil, fmt.Errorf("%w: matrix %dx%d cannot fold to (%d, %d, %d) along mode %d",
			ErrShape, r, c, dim1, dim2, dim3, mode)
	}
	t := NewDense(dim1, dim2, dim3)
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				switch mode {
				case 0:
					t.Set(i, j, k, m.At(i, j+k*dim2))
				case 1:
					t.Set(i, j, k, m.At(j, i+k*dim1))
				case 2:
					t.Set(i, j, k, m.At(k, i+j*dim1))
				}
			}
		}
	}
	return t, nil
}
