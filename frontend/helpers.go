package frontend

import (
	"math"

	"github.com/maastricht-university/pase-pipeline/tensor"
)

func frameCount(samples, size, hop int) int {
	if samples < size {
		return 0
	}
	return 1 + (samples-size)/hop
}

// window cuts each waveform of a (B, S) tensor into frames of size samples
// every hop samples, returning (B, T, size). Trailing samples that do not
// fill a frame are dropped.
func window(wave *tensor.Tensor, size, hop int) *tensor.Tensor {
	shape := wave.Shape()
	b, samples := shape[0], shape[1]
	t := frameCount(samples, size, hop)
	out := tensor.New(b, t, size)
	data := wave.Data()
	for bi := 0; bi < b; bi++ {
		row := data[bi*samples : (bi+1)*samples]
		for f := 0; f < t; f++ {
			out.SetRow(bi, f, row[f*hop:f*hop+size])
		}
	}
	return out
}

// dilate averages each frame with its neighbours d frames away, clamping at
// the sequence edges.
func dilate(x *tensor.Tensor, d int) *tensor.Tensor {
	shape := x.Shape()
	b, frames, c := shape[0], shape[1], shape[2]
	out := tensor.New(b, frames, c)
	for bi := 0; bi < b; bi++ {
		for f := 0; f < frames; f++ {
			lo := int(math.Max(0, float64(f-d)))
			hi := int(math.Min(float64(frames-1), float64(f+d)))
			l, m, r := x.Row(bi, lo), x.Row(bi, f), x.Row(bi, hi)
			row := make([]float32, c)
			for k := range row {
				row[k] = (l[k] + m[k] + r[k]) / 3
			}
			out.SetRow(bi, f, row)
		}
	}
	return out
}

func add(a, b *tensor.Tensor) *tensor.Tensor {
	out := a.Clone()
	od, bd := out.Data(), b.Data()
	for i := range od {
		od[i] += bd[i]
	}
	return out
}

func scale(a *tensor.Tensor, s float32) *tensor.Tensor {
	out := a.Clone()
	od := out.Data()
	for i := range od {
		od[i] *= s
	}
	return out
}
