package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maastricht-university/pase-pipeline/orchestrator"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List the workers, attention blocks and trainable modules of the configured model",
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := buildModel(cmd.Context(), conf)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "model\t%s (%s)\n", m.Name(), m.Variant())
		fmt.Fprintf(w, "emb_dim\t%d\n", m.Encoder().EmbDim())
		if c, ok := m.(*orchestrator.Chunking); ok {
			fmt.Fprintf(w, "chunk_size\t%d\n", c.K())
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "WORKER\tGROUP\tKIND\tATTENTION K")
		blocks := m.AttentionBlocks()
		for _, wi := range m.Workers() {
			k := "-"
			if b, ok := blocks[wi.Name]; ok {
				k = fmt.Sprint(b.K())
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wi.Name, wi.Group, wi.Kind, k)
		}
		fmt.Fprintln(w)

		fmt.Fprintln(w, "MODULE\tIN\tOUT")
		mods := m.Modules()
		for _, mod := range mods {
			fmt.Fprintf(w, "%s\t%d\t%d\n", mod.Name, mod.MLP.In(), mod.MLP.Out())
		}
		return w.Flush()
	},
}
