package bttf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// lagSupport resolves the boundary cases of the temporal update at time t
// for a series of the given length. future holds the indices k of lags whose
// AR equation at t+lags[k] is in range and has a full lag window behind it,
// so X[t] contributes to it. identity reports that t itself has no full lag
// window and the AR precision must be replaced by identity regularization.
// lags must be ascending.
func lagSupport(t, length int, lags []int) (future []int, identity bool) {
	maxLag := lags[len(lags)-1]
	for k, lag := range lags {
		if t+lag >= maxLag && t+lag < length {
			future = append(future, k)
		}
	}
	return future, t < maxLag
}

// sampleTemporal redraws every row of the temporal factor X, combining the
// observation likelihood, the one-step AR prediction from the lagged rows,
// and the coupling terms from every later row whose AR equation depends on
// X[t]. coef is the mode-0 unfolded coefficient matrix and lambdaX the
// innovation precision from the current sweep; design, obs and maskRow are
// the mode-2 Khatri-Rao design and unfoldings.
func (s *Sampler) sampleTemporal(x, coef *mat.Dense, lambdaX *mat.SymDense, design, obs, maskRow *mat.Dense, tau float64) error {
	dim3, r := x.Dims()
	lags := s.cfg.TimeLags
	d := len(lags)
	_, ncols := obs.Dims()

	// Per-lag constants of this sweep: the coefficient slice A_k, the
	// coupling precision A_k^T Lambda A_k and the coupling projector
	// A_k^T Lambda.
	slices := make([]*mat.Dense, d)
	coupling := make([]*mat.SymDense, d)
	project := make([]*mat.Dense, d)
	for k := 0; k < d; k++ {
		ak := mat.DenseCopyOf(coef.Slice(0, r, k*r, (k+1)*r))
		var la, alaa mat.Dense
		la.Mul(lambdaX, ak)
		alaa.Mul(ak.T(), &la)
		p := mat.NewDense(r, r, nil)
		p.Mul(ak.T(), lambdaX)
		slices[k] = ak
		coupling[k] = symmetrize(&alaa)
		project[k] = p
	}

	prec := mat.NewSymDense(r, nil)
	h := make([]float64, r)
	qv := mat.NewVecDense(r*d, nil)
	pred := mat.NewVecDense(r, nil)
	tmp := mat.NewVecDense(r, nil)
	resid := mat.NewVecDense(r, nil)
	for t := 0; t < dim3; t++ {
		prec.Zero()
		for j := range h {
			h[j] = 0
		}

		// Observation likelihood restricted to the observed entries of
		// time slice t.
		for c := 0; c < ncols; c++ {
			if maskRow.At(t, c) == 0 {
				continue
			}
			w := design.RowView(c)
			prec.SymRankOne(prec, tau, w)
			y := tau * obs.At(t, c)
			for j := 0; j < r; j++ {
				h[j] += y * w.AtVec(j)
			}
		}

		future, identity := lagSupport(t, dim3, lags)
		if identity {
			for i := 0; i < r; i++ {
				prec.SetSym(i, i, prec.At(i, i)+1)
			}
		} else {
			// One-step AR prediction from the lagged rows.
			prec.AddSym(prec, lambdaX)
			for k, lag := range lags {
				for j := 0; j < r; j++ {
					qv.SetVec(j+k*r, x.At(t-lag, j))
				}
			}
			pred.MulVec(coef, qv)
			tmp.MulVec(lambdaX, pred)
			for j := 0; j < r; j++ {
				h[j] += tmp.AtVec(j)
			}
		}

		// Coupling from later rows whose AR equation reads X[t]. The lag's
		// own contribution is removed from the residual so it is not
		// counted twice.
		for _, k := range future {
			target := t + lags[k]
			for j := 0; j < r; j++ {
				resid.SetVec(j, x.At(target, j))
			}
			for k2, lag2 := range lags {
				if k2 == k {
					continue
				}
				for i := 0; i < r; i++ {
					v := resid.AtVec(i)
					for j := 0; j < r; j++ {
						v -= slices[k2].At(i, j) * x.At(target-lag2, j)
					}
					resid.SetVec(i, v)
				}
			}
			prec.AddSym(prec, coupling[k])
			tmp.MulVec(project[k], resid)
			for j := 0; j < r; j++ {
				h[j] += tmp.AtVec(j)
			}
		}

		row, err := s.drawGaussian(h, prec)
		if err != nil {
			return fmt.Errorf("temporal row %d: %w", t, err)
		}
		x.SetRow(t, row)
	}
	return nil
}
