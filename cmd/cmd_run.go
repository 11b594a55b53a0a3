// cmd_run.go - Run Command
// Hauptfunktionen: RunHandler, inputFromFlags
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/edgefuse/audio"
	"github.com/ollama/edgefuse/multimodal"
	"github.com/ollama/edgefuse/vision"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Fuse one set of inputs into an embedding",
		Example: "  edgefuse run -m text:32x16 -m audio:16000x1 --text 1,5,9 --audio clip.wav --format json",
		Args:    cobra.NoArgs,
		RunE:    RunHandler,
	}
	addModelFlags(cmd)
	cmd.Flags().String("text", "", "Comma separated token IDs")
	cmd.Flags().String("image", "", "Image file (png, jpeg, gif, webp, bmp, tiff)")
	cmd.Flags().String("audio", "", "WAV file")
	cmd.Flags().String("format", "", "Output format: table or json (default: table on a terminal, json otherwise)")
	cmd.Flags().Int("limit", 16, "Number of embedding values shown in table output (0 = all)")
	return cmd
}

// runResult - JSON-Ausgabe von edgefuse run
type runResult struct {
	Model      string    `json:"model"`
	Method     string    `json:"method"`
	Dim        int       `json:"dim"`
	Quantized  bool      `json:"quantized"`
	SIMD       bool      `json:"simd"`
	DurationMs float64   `json:"duration_ms"`
	Embedding  []float32 `json:"embedding"`
}

// RunHandler - Fuehrt Process einmal aus und gibt das Embedding aus
func RunHandler(cmd *cobra.Command, args []string) error {
	m, err := modelFromFlags(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	in, err := inputFromFlags(cmd)
	if err != nil {
		return err
	}
	defer in.Free(true)

	out, err := multimodal.NewOutput(m.OutputDim(), 1, 0, 0)
	if err != nil {
		return err
	}
	defer out.Free()

	start := time.Now()
	if err := m.Process(in, out); err != nil {
		return err
	}

	res := runResult{
		Model:      m.ID,
		Method:     m.Method().String(),
		Dim:        m.OutputDim(),
		Quantized:  m.Quantized(),
		SIMD:       m.SIMD(),
		DurationMs: float64(time.Since(start).Microseconds()) / 1000,
		Embedding:  out.Embedding(0),
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = "json"
		if f, ok := cmd.OutOrStdout().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "table"
		}
	}

	switch format {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		return enc.Encode(res)
	case "table":
		limit, _ := cmd.Flags().GetInt("limit")
		printRunTable(cmd.OutOrStdout(), res, limit)
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func printRunTable(w io.Writer, res runResult, limit int) {
	renderTable(w, []string{"MODEL", "METHOD", "DIM", "QUANTIZED", "SIMD", "DURATION"}, [][]string{{
		res.Model, res.Method, strconv.Itoa(res.Dim),
		strconv.FormatBool(res.Quantized), strconv.FormatBool(res.SIMD),
		fmt.Sprintf("%.3fms", res.DurationMs),
	}})

	values := res.Embedding
	if limit > 0 && limit < len(values) {
		values = values[:limit]
	}

	data := make([][]string, len(values))
	for i, v := range values {
		data[i] = []string{strconv.Itoa(i), strconv.FormatFloat(float64(v), 'f', 6, 32)}
	}
	fmt.Fprintln(w)
	renderTable(w, []string{"INDEX", "VALUE"}, data)
	if len(values) < len(res.Embedding) {
		fmt.Fprintf(w, "... %d more\n", len(res.Embedding)-len(values))
	}
}

// inputFromFlags - Laedt die Eingaben aus --text, --image und --audio
func inputFromFlags(cmd *cobra.Command) (*multimodal.Input, error) {
	in := multimodal.NewInput()

	if s, _ := cmd.Flags().GetString("text"); s != "" {
		tokens, err := parseTokens(s)
		if err != nil {
			return nil, err
		}
		in.SetText(tokens, multimodal.Owned)
	}

	if path, _ := cmd.Flags().GetString("image"); path != "" {
		img, err := vision.LoadImage(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		in.SetImage(img.RGBA, multimodal.Owned)
	}

	if path, _ := cmd.Flags().GetString("audio"); path != "" {
		clip, err := audio.LoadWAV(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		in.SetAudio(clip.Samples, clip.SampleRate, multimodal.Owned)
	}

	return in, nil
}
