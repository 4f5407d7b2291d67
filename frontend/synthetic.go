package frontend

import (
	"math"
	"math/rand"

	"github.com/maastricht-university/pase-pipeline/tensor"
)

// Synthetic builds a batch of noisy sine waveforms for dry runs. Every view
// gets its own random frequency; targets maps worker names to their label
// widths and is filled with (B, frames, width) random labels.
func Synthetic(rng *rand.Rand, batchSize, samples, frames int, targets map[string]int) Batch {
	wave := func() *tensor.Tensor {
		t := tensor.New(batchSize, samples)
		for b := 0; b < batchSize; b++ {
			freq := 1 + rng.Float64()*4
			for s := 0; s < samples; s++ {
				phase := 2 * math.Pi * freq * float64(s) / float64(samples)
				t.Set(float32(math.Sin(phase)+0.1*rng.NormFloat64()), b, s)
			}
		}
		return t
	}

	x := Batch{
		Chunk:   wave(),
		Context: wave(),
		Rand:    wave(),
		Targets: make(map[string]*tensor.Tensor, len(targets)),
	}
	for name, width := range targets {
		y := tensor.New(batchSize, frames, width)
		for i := range y.Data() {
			y.Data()[i] = float32(rng.NormFloat64())
		}
		x.Targets[name] = y
	}
	return x
}
