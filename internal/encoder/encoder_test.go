package encoder

import (
	"errors"
	"testing"

	"NeuralRoulette/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = (i * 7) % 37
	}
	return out
}

func TestEncodeUsesLastLPlusOne(t *testing.T) {
	e, err := New(3, SchemeScalar)
	require.NoError(t, err)

	w, tg, err := e.Encode([]int{5, 36, 0, 18, 9})
	require.NoError(t, err)
	assert.Equal(t, []int{36, 0, 18}, w.Outcomes)
	require.Equal(t, 3, w.Len())
	assert.InDelta(t, 1.0, w.Steps[0][0], 1e-12)
	assert.InDelta(t, 0.0, w.Steps[1][0], 1e-12)
	assert.InDelta(t, 0.5, w.Steps[2][0], 1e-12)
	assert.Equal(t, 9, tg.Class)
	assert.Equal(t, 1.0, tg.OneHot[9])
	assert.Len(t, tg.OneHot, models.NumOutcomes)
}

func TestEncodeDeterministic(t *testing.T) {
	e, err := New(10, SchemeOneHot)
	require.NoError(t, err)
	in := seq(25)
	w1, t1, err := e.Encode(in)
	require.NoError(t, err)
	w2, t2, err := e.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, w1, w2)
	assert.Equal(t, t1, t2)
	assert.Len(t, w1.Steps[0], models.NumOutcomes)
}

func TestEncodeTooShort(t *testing.T) {
	e, err := New(10, SchemeScalar)
	require.NoError(t, err)
	_, _, err = e.Encode(seq(10))
	assert.True(t, errors.Is(err, models.ErrWindowTooShort))

	_, _, err = e.EncodeBatch(seq(10))
	assert.True(t, errors.Is(err, models.ErrWindowTooShort))

	_, err = e.EncodeInput(seq(9))
	assert.True(t, errors.Is(err, models.ErrWindowTooShort))
}

func TestEncodeBatchStrideOne(t *testing.T) {
	e, err := New(10, SchemeScalar)
	require.NoError(t, err)
	in := seq(20)

	ws, ts, err := e.EncodeBatch(in)
	require.NoError(t, err)
	require.Len(t, ws, 10)
	require.Len(t, ts, 10)
	for i := range ws {
		assert.Equal(t, in[i:i+10], ws[i].Outcomes)
		assert.Equal(t, in[i+10], ts[i].Class)
	}

	// the newest pair matches Encode on the full snapshot
	w, tg, err := e.Encode(in)
	require.NoError(t, err)
	assert.Equal(t, w, ws[len(ws)-1])
	assert.Equal(t, tg, ts[len(ts)-1])
}

func TestEncodeInputTakesTail(t *testing.T) {
	e, err := New(4, SchemeScalar)
	require.NoError(t, err)
	w, err := e.EncodeInput([]int{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5, 6}, w.Outcomes)
}

func TestEncodeRejectsInvalidOutcome(t *testing.T) {
	e, err := New(2, SchemeScalar)
	require.NoError(t, err)
	_, _, err = e.Encode([]int{1, 40, 2})
	assert.True(t, errors.Is(err, models.ErrInvalidEvent))
}

func TestNewValidates(t *testing.T) {
	_, err := New(0, SchemeScalar)
	assert.Error(t, err)
	_, err = New(10, Scheme("fourier"))
	assert.Error(t, err)

	s, err := ParseScheme("")
	require.NoError(t, err)
	assert.Equal(t, SchemeScalar, s)
	assert.Equal(t, 1, SchemeScalar.Width())
	assert.Equal(t, 37, SchemeOneHot.Width())
}
