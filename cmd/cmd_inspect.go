// cmd_inspect.go - Inspect Command
// Hauptfunktionen: InspectHandler
package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ollama/edgefuse/format"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "inspect",
		Short:   "Show the memory budget of a model",
		Example: "  edgefuse inspect -m text:128x64 -m image:224x224x3 --method attention --fusion-dim 256",
		Args:    cobra.NoArgs,
		RunE:    InspectHandler,
	}
	addModelFlags(cmd)
	return cmd
}

// InspectHandler - Zeigt die Speicherbilanz pro Encoder und Fusions-Layer
func InspectHandler(cmd *cobra.Command, args []string) error {
	m, err := modelFromFlags(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	w := cmd.OutOrStdout()
	human := func(n int) string { return format.HumanBytes(int64(n)) }

	var data [][]string
	for i, e := range m.Encoders() {
		data = append(data, []string{
			"enc." + strconv.Itoa(i), e.Config.String(),
			fmt.Sprintf("%d -> %d -> %d", e.InputDim, e.HiddenDim, e.OutputDim),
			human(e.WeightBytes), human(e.BiasBytes), human(e.OutputBytes),
		})
	}
	for i, l := range m.Layers() {
		data = append(data, []string{
			"fusion." + strconv.Itoa(i), l.Method.String(),
			fmt.Sprintf("%d -> %d", l.TotalInputDim(), l.OutputDim),
			human(l.WeightBytes), human(l.BiasBytes), human(l.OutputBytes),
		})
	}
	renderTable(w, []string{"NAME", "CONFIG", "DIMS", "WEIGHTS", "BIAS", "OUTPUT"}, data)

	weights, activations := m.MemoryUsage()
	poolWeights, poolActivations := m.PoolSize()
	fmt.Fprintln(w)
	renderTable(w, []string{"BUDGET", "WEIGHTS", "ACTIVATIONS"}, [][]string{
		{"declared", human(weights), human(activations)},
		{"pool", human(poolWeights), human(poolActivations)},
	})

	fmt.Fprintln(w)
	fmt.Fprintf(w, "output dim %d, quantized %v, simd %v, learned fusion %v\n",
		m.OutputDim(), m.Quantized(), m.SIMD(), m.FusionLayer().Learned())
	return nil
}

// renderTable - Gibt eine randlose, linksbuendige Tabelle aus
func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

