package attention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/pase-pipeline/config"
	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

func TestTopK(t *testing.T) {
	assert.Equal(t, []int{2, 0}, topK([]float32{0.5, 0.1, 0.9, 0.5}, 2))
	assert.Equal(t, []int{0, 3}, topK([]float32{0.5, 0.1, 0.1, 0.5}, 2))
}

func TestNewClampsContext(t *testing.T) {
	b, err := New(16, "mfcc", config.Attention{}, DefaultContext)
	require.NoError(t, err)
	assert.Equal(t, 16, b.K())
	assert.Equal(t, "mfcc", b.Name())
	assert.Contains(t, b.Modules(), "attention.mfcc")

	b, err = New(100, "mi", config.Attention{TopK: 10, HiddenSize: 8}, DefaultContext)
	require.NoError(t, err)
	assert.Equal(t, 10, b.K())

	_, err = New(100, "mi", config.Attention{Activ: "swish"}, DefaultContext)
	assert.Error(t, err)
	_, err = New(100, "mi", config.Attention{}, 0)
	assert.Error(t, err)
}

func TestForwardSelectsKChannels(t *testing.T) {
	b, err := New(12, "lps", config.Attention{TopK: 5}, DefaultContext)
	require.NoError(t, err)

	chunk := tensor.Fill(1, 2, 3, 12)
	hidden, mask, err := b.Forward(chunk, frontend.CPU)
	require.NoError(t, err)

	assert.Equal(t, chunk.Shape(), mask.Shape())
	assert.Equal(t, 2*3*5, tensor.CountNonZero(mask))
	assert.True(t, tensor.Equal(hidden, mask), "hidden of an all-ones chunk is the mask itself")

	_, _, err = b.Forward(tensor.Fill(1, 2, 3, 11), frontend.CPU)
	assert.Error(t, err)
	_, _, err = b.Forward(chunk, frontend.Device("tpu"))
	assert.ErrorIs(t, err, frontend.ErrUnsupportedDevice)
}
