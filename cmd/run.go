package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/maastricht-university/pase-pipeline/frontend"
	"github.com/maastricht-university/pase-pipeline/orchestrator"
)

var runFlags struct {
	batches     int
	batchSize   int
	samples     int
	seed        int64
	device      string
	saveWeights bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Forward synthetic batches through the configured model and persist a summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := runFlags
		if f.batches <= 0 || f.batchSize <= 0 || f.samples <= 0 {
			return fmt.Errorf("batches, batch-size and samples must be positive")
		}
		if f.seed == 0 {
			f.seed = time.Now().UnixNano()
		}
		rng := rand.New(rand.NewSource(f.seed))

		m, err := buildModel(cmd.Context(), conf, orchestrator.WithRand(rng))
		if err != nil {
			return err
		}
		log := logrus.WithFields(logrus.Fields{"component": "run", "model": m.Name(), "variant": m.Variant()})
		log.WithField("workers", len(m.Workers())).Info("model ready")

		targets := map[string]int{}
		for _, w := range m.Workers() {
			if w.Outputs > 0 {
				targets[w.Name] = w.Outputs
			}
		}
		frames := m.Encoder().Frames(f.samples)

		bar := progressbar.NewOptions(f.batches,
			progressbar.OptionSetDescription("forward"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		var out *orchestrator.Output
		for i := 0; i < f.batches; i++ {
			x := frontend.Synthetic(rng, f.batchSize, f.samples, frames, targets)
			if out, err = m.Forward(x, frontend.Device(f.device)); err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			_ = bar.Add(1)
		}
		_ = bar.Finish()

		s := orchestrator.Summarize(m, out)
		dir, err := orchestrator.Persist(conf.Paths.Outputs, m, s, f.saveWeights)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"run_id": s.RunID, "dir": dir}).Info("summary written")
		return nil
	},
}

func init() {
	fl := runCmd.Flags()
	fl.IntVar(&runFlags.batches, "batches", 4, "number of synthetic batches")
	fl.IntVar(&runFlags.batchSize, "batch-size", 2, "waveforms per batch")
	fl.IntVar(&runFlags.samples, "samples", 3200, "samples per waveform")
	fl.Int64Var(&runFlags.seed, "seed", 0, "random seed (0 picks one from the clock)")
	fl.StringVar(&runFlags.device, "device", string(frontend.CPU), "compute device")
	fl.BoolVar(&runFlags.saveWeights, "save-weights", false, "write a checkpoint next to the summary")
}
