package bttf

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/n0madic/go-tensor-forecast/tensor"
)

// position indexes one tensor cell.
type position struct {
	i, j, k int
}

// Run executes the full Gibbs chain on the observed tensor and returns the
// posterior-mean point estimates together with the MultiSteps-ahead forecast.
// dense is the ground truth and is consulted only for held-out diagnostics;
// the likelihood sees exclusively the nonzero entries of sparse. init is not
// mutated; all chain state is private to the invocation.
func (s *Sampler) Run(dense, sparse *tensor.Dense, init *State) (*Result, error) {
	if err := s.validateInputs(dense, sparse, init); err != nil {
		return nil, err
	}
	dim1, dim2, dim3 := sparse.Dims()
	r := s.cfg.Rank
	d := len(s.cfg.TimeLags)

	u := mat.DenseCopyOf(init.U)
	v := mat.DenseCopyOf(init.V)
	x := mat.DenseCopyOf(init.X)

	// The indicator of genuine observations is derived once from the
	// nonzero entries of sparse; zeros are treated as missing everywhere.
	mask := tensor.NewDense(dim1, dim2, dim3)
	var held []position
	nObs := 0
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				if sparse.At(i, j, k) != 0 {
					mask.Set(i, j, k, 1)
					nObs++
				} else if dense.At(i, j, k) != 0 {
					held = append(held, position{i, j, k})
				}
			}
		}
	}

	var obsUnf, maskUnf [3]*mat.Dense
	for mode := 0; mode < 3; mode++ {
		var err error
		if obsUnf[mode], err = sparse.Unfold(mode); err != nil {
			return nil, err
		}
		if maskUnf[mode], err = mask.Unfold(mode); err != nil {
			return nil, err
		}
	}

	uSum := mat.NewDense(dim1, r, nil)
	vSum := mat.NewDense(dim2, r, nil)
	xSum := mat.NewDense(dim3, r, nil)
	coefSum := mat.NewDense(r, r*d, nil)

	tau := 1.0
	burn := s.cfg.Sweeps - s.cfg.Samples
	for it := 0; it < s.cfg.Sweeps; it++ {
		lambda, mu, err := s.sampleFactorHyper(u)
		if err != nil {
			return nil, fmt.Errorf("sweep %d: %w", it, err)
		}
		design, err := tensor.KhatriRao(x, v)
		if err != nil {
			return nil, err
		}
		if err := s.sampleFactorRows(u, design, obsUnf[0], maskUnf[0], tau, lambda, mu); err != nil {
			return nil, fmt.Errorf("sweep %d: U: %w", it, err)
		}

		if lambda, mu, err = s.sampleFactorHyper(v); err != nil {
			return nil, fmt.Errorf("sweep %d: %w", it, err)
		}
		if design, err = tensor.KhatriRao(x, u); err != nil {
			return nil, err
		}
		if err := s.sampleFactorRows(v, design, obsUnf[1], maskUnf[1], tau, lambda, mu); err != nil {
			return nil, fmt.Errorf("sweep %d: V: %w", it, err)
		}

		coef, lambdaX, err := s.sampleVARCoefficients(x)
		if err != nil {
			return nil, fmt.Errorf("sweep %d: %w", it, err)
		}
		if design, err = tensor.KhatriRao(v, u); err != nil {
			return nil, err
		}
		if err := s.sampleTemporal(x, coef, lambdaX, design, obsUnf[2], maskUnf[2], tau); err != nil {
			return nil, fmt.Errorf("sweep %d: X: %w", it, err)
		}

		recon, err := tensor.CPCombine(u, v, x)
		if err != nil {
			return nil, err
		}
		tau = s.sampleTau(sparse, recon, mask, nObs)

		if it >= burn {
			uSum.Add(uSum, u)
			vSum.Add(vSum, v)
			xSum.Add(xSum, x)
			coefSum.Add(coefSum, coef)
		} else if (it+1)%diagnosticInterval == 0 {
			s.logger.Info("warmup diagnostic",
				zap.Int("sweep", it+1),
				zap.Float64("tau", tau),
				zap.Float64("heldout_rmse", rmseAt(dense, recon, held)))
		}
	}

	inv := 1 / float64(s.cfg.Samples)
	uHat := scaled(uSum, inv)
	vHat := scaled(vSum, inv)
	xHat := scaled(xSum, inv)
	coefHat := scaled(coefSum, inv)

	xExt := s.extrapolate(xHat, coefHat)
	recon, err := tensor.CPCombine(uHat, vHat, xExt)
	if err != nil {
		return nil, err
	}
	forecast, err := recon.TimeSlice(dim3, dim3+s.cfg.MultiSteps)
	if err != nil {
		return nil, err
	}
	coefTensor, err := tensor.Fold(coefHat, 0, r, r, d)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Forecast: forecast,
		U:        uHat,
		V:        vHat,
		X:        xExt,
		A:        coefTensor,
		Tau:      tau,
	}
	if s.cfg.Sweeps >= minSweepsForMetrics && len(held) > 0 {
		res.MAPE, res.RMSE = metricsAt(dense, recon, held)
		res.MetricsReported = true
		s.logger.Info("imputation metrics",
			zap.Float64("mape", res.MAPE),
			zap.Float64("rmse", res.RMSE))
	}
	return res, nil
}

// sampleTau draws the noise precision from its Gamma posterior: prior shape
// and rate plus half the observation count and half the residual sum of
// squares over observed cells.
func (s *Sampler) sampleTau(sparse, recon, mask *tensor.Dense, nObs int) float64 {
	dim1, dim2, dim3 := sparse.Dims()
	rss := 0.0
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				if mask.At(i, j, k) == 0 {
					continue
				}
				diff := sparse.At(i, j, k) - recon.At(i, j, k)
				rss += diff * diff
			}
		}
	}
	g := distuv.Gamma{
		Alpha: s.gammaShape + 0.5*float64(nObs),
		Beta:  s.gammaRate + 0.5*rss,
		Src:   s.rng,
	}
	return g.Rand()
}

// extrapolate extends the posterior-mean temporal factor by MultiSteps rows,
// applying the VAR recursion deterministically with no innovation noise.
func (s *Sampler) extrapolate(xHat, coef *mat.Dense) *mat.Dense {
	dim3, r := xHat.Dims()
	ext := mat.NewDense(dim3+s.cfg.MultiSteps, r, nil)
	ext.Copy(xHat)
	for h := 0; h < s.cfg.MultiSteps; h++ {
		t := dim3 + h
		for i := 0; i < r; i++ {
			val := 0.0
			for k, lag := range s.cfg.TimeLags {
				for j := 0; j < r; j++ {
					val += coef.At(i, j+k*r) * ext.At(t-lag, j)
				}
			}
			ext.Set(t, i, val)
		}
	}
	return ext
}

func scaled(m *mat.Dense, f float64) *mat.Dense {
	out := mat.DenseCopyOf(m)
	out.Scale(f, out)
	return out
}

// rmseAt computes the root mean squared error between actual and pred over
// the given positions; it is NaN-free only for a non-empty position set.
func rmseAt(actual, pred *tensor.Dense, pos []position) float64 {
	if len(pos) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, p := range pos {
		diff := actual.At(p.i, p.j, p.k) - pred.At(p.i, p.j, p.k)
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(pos)))
}

// metricsAt computes MAPE and RMSE over the given positions. Positions with
// a zero actual value are excluded from the MAPE average since the ratio is
// undefined there.
func metricsAt(actual, pred *tensor.Dense, pos []position) (mape, rmse float64) {
	nRatio := 0
	sumRatio, sumSq := 0.0, 0.0
	for _, p := range pos {
		a := actual.At(p.i, p.j, p.k)
		diff := a - pred.At(p.i, p.j, p.k)
		sumSq += diff * diff
		if a != 0 {
			sumRatio += math.Abs(diff / a)
			nRatio++
		}
	}
	rmse = math.Sqrt(sumSq / float64(len(pos)))
	if nRatio > 0 {
		mape = sumRatio / float64(nRatio)
	}
	return mape, rmse
}
