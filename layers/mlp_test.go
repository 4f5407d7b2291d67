package layers_test

import (
	"testing"

	"github.com/openfluke/loom/nn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maastricht-university/pase-pipeline/layers"
	"github.com/maastricht-university/pase-pipeline/tensor"
)

func TestApplyFramesShape(t *testing.T) {
	m := layers.NewMLP(4, []int{8}, 3, nn.ActivationLeakyReLU)
	assert.Equal(t, 4, m.In())
	assert.Equal(t, 3, m.Out())

	x := tensor.Fill(0.5, 2, 5, 4)
	y := m.ApplyFrames(x)
	assert.Equal(t, []int{2, 5, 3}, y.Shape())

	rows := m.ApplyRows(tensor.Fill(0.5, 6, 4))
	assert.Equal(t, []int{6, 3}, rows.Shape())

	assert.Panics(t, func() { m.Apply(make([]float32, 3)) })
}

func TestMarshalRoundTrip(t *testing.T) {
	a := layers.NewMLP(4, nil, 2, nn.ActivationTanh)
	b := layers.NewMLP(4, nil, 2, nn.ActivationTanh)

	s, err := a.Marshal("head")
	require.NoError(t, err)
	require.NoError(t, b.Unmarshal("head", s))

	in := []float32{0.1, -0.2, 0.3, 0.4}
	assert.InDeltaSlice(t, a.Apply(in), b.Apply(in), 1e-5)

	assert.Error(t, b.Unmarshal("head", "not a network"))
}

func TestParseActivation(t *testing.T) {
	act, err := layers.ParseActivation("")
	require.NoError(t, err)
	assert.Equal(t, nn.ActivationLeakyReLU, act)

	act, err = layers.ParseActivation("tanh")
	require.NoError(t, err)
	assert.Equal(t, nn.ActivationTanh, act)

	_, err = layers.ParseActivation("swish")
	assert.Error(t, err)
}

func TestUnmarshalRejectsOtherWidths(t *testing.T) {
	src := layers.NewMLP(4, []int{8}, 2, nn.ActivationTanh)
	s, err := src.Marshal("head")
	require.NoError(t, err)

	for _, dst := range []*layers.MLP{
		layers.NewMLP(5, []int{8}, 2, nn.ActivationTanh),
		layers.NewMLP(4, []int{8}, 3, nn.ActivationTanh),
	} {
		err := dst.Unmarshal("head", s)
		assert.ErrorIs(t, err, layers.ErrWidthMismatch)
		assert.Len(t, dst.Apply(make([]float32, dst.In())), dst.Out())
	}

	dst := layers.NewMLP(4, []int{16}, 2, nn.ActivationTanh)
	assert.NoError(t, dst.Unmarshal("head", s), "hidden widths may differ")
}
