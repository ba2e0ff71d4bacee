package rolling

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/n0madic/go-tensor-forecast/bttf"
	"github.com/n0madic/go-tensor-forecast/tensor"
)

func syntheticPair(dim1, dim2, dim3 int, missing float64, seed uint64) (dense, sparse *tensor.Dense) {
	rng := rand.New(rand.NewPCG(seed, seed))
	u := mat.NewDense(dim1, 2, nil)
	v := mat.NewDense(dim2, 2, nil)
	for i := 0; i < dim1; i++ {
		u.SetRow(i, []float64{0.5 + rng.Float64(), 0.5 + rng.Float64()})
	}
	for j := 0; j < dim2; j++ {
		v.SetRow(j, []float64{0.5 + rng.Float64(), 0.5 + rng.Float64()})
	}
	x := mat.NewDense(dim3, 2, nil)
	for t := 0; t < dim3; t++ {
		x.SetRow(t, []float64{
			1.5 + math.Sin(2*math.Pi*float64(t)/7),
			1.1 + 0.5*math.Cos(2*math.Pi*float64(t)/5),
		})
	}
	dense, err := tensor.CPCombine(u, v, x)
	if err != nil {
		panic(err)
	}
	sparse = dense.Copy()
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				if rng.Float64() < missing {
					sparse.Set(i, j, k, 0)
				}
			}
		}
	}
	return dense, sparse
}

func baseConfig() Config {
	return Config{
		Rank:        2,
		TimeLags:    []int{1, 2},
		PredSteps:   6,
		MultiSteps:  3,
		ColdSweeps:  20,
		ColdSamples: 5,
		WarmSweeps:  10,
		WarmSamples: 4,
	}
}

func TestConfigRejectsIndivisibleHorizon(t *testing.T) {
	cfg := baseConfig()
	cfg.PredSteps = 7
	_, err := New(cfg, 1)
	assert.ErrorIs(t, err, bttf.ErrConfig)
}

func TestConfigRejectsOversizedStep(t *testing.T) {
	cfg := baseConfig()
	cfg.MultiSteps = cfg.PredSteps + 1
	_, err := New(cfg, 1)
	assert.ErrorIs(t, err, bttf.ErrConfig)
}

func TestConfigRejectsBadWindowSweeps(t *testing.T) {
	cfg := baseConfig()
	cfg.WarmSamples = cfg.WarmSweeps + 1
	_, err := New(cfg, 1)
	assert.ErrorIs(t, err, bttf.ErrConfig)
}

func TestRunRejectsShapeMismatch(t *testing.T) {
	f, err := New(baseConfig(), 1)
	require.NoError(t, err)
	_, err = f.Run(tensor.NewDense(4, 4, 40), tensor.NewDense(4, 4, 39))
	assert.ErrorIs(t, err, bttf.ErrShapeMismatch)
}

func TestRunRejectsHorizonWithoutTraining(t *testing.T) {
	cfg := baseConfig()
	cfg.PredSteps = 36
	cfg.MultiSteps = 36
	f, err := New(cfg, 1)
	require.NoError(t, err)
	dense, sparse := syntheticPair(4, 4, 38, 0.1, 2)
	_, err = f.Run(dense, sparse)
	assert.ErrorIs(t, err, bttf.ErrConfig)
}

func TestRollingForecastShapeAndMetrics(t *testing.T) {
	dense, sparse := syntheticPair(4, 4, 40, 0.1, 9)
	f, err := New(baseConfig(), 33)
	require.NoError(t, err)

	res, err := f.Run(dense, sparse)
	require.NoError(t, err)

	d1, d2, d3 := res.Forecast.Dims()
	assert.Equal(t, 4, d1)
	assert.Equal(t, 4, d2)
	assert.Equal(t, 6, d3)

	require.False(t, math.IsNaN(res.MAPE), "ground truth is dense, MAPE must be defined")
	require.False(t, math.IsNaN(res.RMSE))
	assert.Greater(t, res.RMSE, 0.0)
	for k := 0; k < d3; k++ {
		for j := 0; j < d2; j++ {
			for i := 0; i < d1; i++ {
				v := res.Forecast.At(i, j, k)
				require.Falsef(t, math.IsNaN(v) || math.IsInf(v, 0),
					"forecast (%d, %d, %d) is not finite: %v", i, j, k, v)
			}
		}
	}
}

func TestRollingForecastSingleWindow(t *testing.T) {
	cfg := baseConfig()
	cfg.PredSteps = 4
	cfg.MultiSteps = 4
	dense, sparse := syntheticPair(4, 4, 40, 0.1, 14)
	f, err := New(cfg, 5)
	require.NoError(t, err)

	res, err := f.Run(dense, sparse)
	require.NoError(t, err)
	_, _, d3 := res.Forecast.Dims()
	assert.Equal(t, 4, d3)
}

func TestRollingForecastReproducible(t *testing.T) {
	dense, sparse := syntheticPair(4, 4, 40, 0.1, 20)
	run := func() *Result {
		f, err := New(baseConfig(), 77)
		require.NoError(t, err)
		res, err := f.Run(dense, sparse)
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()
	assert.Equal(t, a.RMSE, b.RMSE)
	assert.Equal(t, a.MAPE, b.MAPE)
}
