// cmd_quantize.go - Quantize Command
// Hauptfunktionen: QuantizeHandler
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/edgefuse/format"
	"github.com/ollama/edgefuse/multimodal"
)

func newQuantizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "quantize OUTPUT",
		Short:   "Write 4-bit weights as a GGUF file",
		Long:    "Loads --weights (or initializes weights from --seed), quantizes every matrix to 4 bits and writes the result as GGUF.",
		Example: "  edgefuse quantize -m text:128x64 -m image:64x64x3 --method add -w model-f32.gguf model-q4.gguf",
		Args:    cobra.ExactArgs(1),
		RunE:    QuantizeHandler,
	}
	addModelFlags(cmd)
	return cmd
}

// QuantizeHandler - Schreibt die Gewichte eines Modells 4-Bit quantisiert
func QuantizeHandler(cmd *cobra.Command, args []string) error {
	p, err := modelParams(cmd)
	if err != nil {
		return err
	}
	p.Apply(multimodal.WithQuantization(true))

	m, err := multimodal.Create(p)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.SaveWeights(args[0]); err != nil {
		return err
	}

	fi, err := os.Stat(args[0])
	if err != nil {
		return err
	}

	weights, _ := m.MemoryUsage()
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s, declared weights %s)\n",
		args[0], format.HumanBytes(fi.Size()), format.HumanBytes(int64(weights)))
	return nil
}
