package tensor

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrColumnMismatch is returned by KhatriRao when the operands do not share
// a column count.
var ErrColumnMismatch = errors.New("tensor: operands must have equal column counts")

// KhatriRao computes the column-wise Kronecker (Khatri-Rao) product of
// a (m x r) and b (n x r): a (mn x r) matrix whose s-th column is the
// Kronecker product of the s-th columns of a and b. The second operand
// varies fastest along the rows, matching the column order of Unfold.
func KhatriRao(a, b mat.Matrix) (*mat.Dense, error) {
	am, ar := a.Dims()
	bm, br := b.Dims()
	if ar != br {
		return nil, fmt.Errorf("%w: %d vs %d", ErrColumnMismatch, ar, br)
	}
	out := mat.NewDense(am*bm, ar, nil)
	for i := 0; i < am; i++ {
		for j := 0; j < bm; j++ {
			row := i*bm + j
			for s := 0; s < ar; s++ {
				out.Set(row, s, a.At(i, s)*b.At(j, s))
			}
		}
	}
	return out, nil
}

// Scatter returns the unnormalized scatter matrix of m: the sum over rows of
// the outer product of the row-mean-centered rows. The result is symmetric
// positive semi-definite and zero when all rows coincide.
func Scatter(m mat.Matrix) *mat.SymDense {
	rows, cols := m.Dims()
	mean := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			mean[j] += m.At(i, j)
		}
	}
	for j := range mean {
		mean[j] /= float64(rows)
	}
	s := mat.NewSymDense(cols, nil)
	centered := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			centered[j] = m.At(i, j) - mean[j]
		}
		s.SymRankOne(s, 1, mat.NewVecDense(cols, centered))
	}
	return s
}

// CPCombine reconstructs the tensor whose (i, j, k) entry is
// sum_s u[i,s]*v[j,s]*x[k,s], the CP combination of the three factor
// matrices. All factors must share the rank (column count).
func CPCombine(u, v, x mat.Matrix) (*Dense, error) {
	d1, ru := u.Dims()
	d2, rv := v.Dims()
	d3, rx := x.Dims()
	if ru != rv || ru != rx {
		return nil, fmt.Errorf("%w: ranks %d, %d, %d", ErrColumnMismatch, ru, rv, rx)
	}
	w, err := KhatriRao(x, v)
	if err != nil {
		return nil, err
	}
	var unfolded mat.Dense
	unfolded.Mul(u, w.T())
	return Fold(&unfolded, 0, d1, d2, d3)
}
