package tensor

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomTensor(dim1, dim2, dim3 int, rng *rand.Rand) *Dense {
	t := NewDense(dim1, dim2, dim3)
	for k := 0; k < dim3; k++ {
		for j := 0; j < dim2; j++ {
			for i := 0; i < dim1; i++ {
				t.Set(i, j, k, rng.NormFloat64())
			}
		}
	}
	return t
}

func TestUnfoldFoldRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	shapes := [][3]int{{2, 3, 4}, {1, 5, 2}, {4, 4, 4}, {3, 1, 7}}
	for _, shape := range shapes {
		ten := randomTensor(shape[0], shape[1], shape[2], rng)
		for mode := 0; mode < 3; mode++ {
			m, err := ten.Unfold(mode)
			require.NoError(t, err)
			back, err := Fold(m, mode, shape[0], shape[1], shape[2])
			require.NoError(t, err)
			for k := 0; k < shape[2]; k++ {
				for j := 0; j < shape[1]; j++ {
					for i := 0; i < shape[0]; i++ {
						require.Equal(t, ten.At(i, j, k), back.At(i, j, k),
							"mode %d shape %v at (%d, %d, %d)", mode, shape, i, j, k)
					}
				}
			}
		}
	}
}

func TestUnfoldShapes(t *testing.T) {
	ten := NewDense(2, 3, 5)
	want := [][2]int{{2, 15}, {3, 10}, {5, 6}}
	for mode := 0; mode < 3; mode++ {
		m, err := ten.Unfold(mode)
		require.NoError(t, err)
		r, c := m.Dims()
		assert.Equal(t, want[mode][0], r)
		assert.Equal(t, want[mode][1], c)
	}
	_, err := ten.Unfold(3)
	assert.ErrorIs(t, err, ErrMode)
}

func TestTimeSlice(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	ten := randomTensor(3, 2, 6, rng)

	s, err := ten.TimeSlice(2, 5)
	require.NoError(t, err)
	d1, d2, d3 := s.Dims()
	assert.Equal(t, 3, d1)
	assert.Equal(t, 2, d2)
	assert.Equal(t, 3, d3)
	for k := 0; k < 3; k++ {
		for j := 0; j < 2; j++ {
			for i := 0; i < 3; i++ {
				assert.Equal(t, ten.At(i, j, k+2), s.At(i, j, k))
			}
		}
	}

	_, err = ten.TimeSlice(4, 4)
	assert.ErrorIs(t, err, ErrShape)
	_, err = ten.TimeSlice(0, 7)
	assert.ErrorIs(t, err, ErrShape)
}

func TestCopyIsDeep(t *testing.T) {
	ten := NewDense(2, 2, 2)
	ten.Set(1, 1, 1, 3.5)
	c := ten.Copy()
	c.Set(1, 1, 1, -1)
	assert.Equal(t, 3.5, ten.At(1, 1, 1))
	assert.Equal(t, -1.0, c.At(1, 1, 1))
}

func TestNonZeros(t *testing.T) {
	ten := NewDense(2, 2, 2)
	assert.Equal(t, 0, ten.NonZeros())
	ten.Set(0, 1, 0, 2)
	ten.Set(1, 0, 1, -4)
	assert.Equal(t, 2, ten.NonZeros())
}
