// cmd_bench.go - Bench Command
// Hauptfunktionen: BenchHandler, syntheticInput
package cmd

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ollama/edgefuse/envconfig"
	"github.com/ollama/edgefuse/multimodal"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "bench",
		Short:   "Measure Process latency with concurrent models",
		Example: "  edgefuse bench -m text:128x64 -m audio:16000x1 --method attention --iterations 200",
		Args:    cobra.NoArgs,
		RunE:    BenchHandler,
	}
	addModelFlags(cmd)
	cmd.Flags().Int("iterations", 100, "Process calls per model")
	cmd.Flags().Int("warmup", 5, "Untimed calls per model")
	cmd.Flags().Int("parallel", int(envconfig.NumParallel()), "Number of concurrent models, each with its own pool")
	return cmd
}

// benchResult - Messwerte eines Modells
type benchResult struct {
	durations []time.Duration
}

func (r benchResult) percentile(p float64) time.Duration {
	if len(r.durations) == 0 {
		return 0
	}
	sorted := slices.Clone(r.durations)
	slices.Sort(sorted)
	return sorted[int(p*float64(len(sorted)-1))]
}

func (r benchResult) mean() time.Duration {
	if len(r.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range r.durations {
		sum += d
	}
	return sum / time.Duration(len(r.durations))
}

// BenchHandler - Fuehrt Process auf parallel laufenden Modellen aus
func BenchHandler(cmd *cobra.Command, args []string) error {
	p, err := modelParams(cmd)
	if err != nil {
		return err
	}

	iterations, _ := cmd.Flags().GetInt("iterations")
	warmup, _ := cmd.Flags().GetInt("warmup")
	parallel, _ := cmd.Flags().GetInt("parallel")
	if iterations <= 0 || parallel <= 0 {
		return fmt.Errorf("--iterations and --parallel must be positive")
	}

	results := make([]benchResult, parallel)
	start := time.Now()

	g, ctx := errgroup.WithContext(cmd.Context())
	for i := range parallel {
		g.Go(func() error {
			res, err := benchModel(ctx, p, iterations, warmup)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	var data [][]string
	for i, r := range results {
		data = append(data, []string{
			strconv.Itoa(i), strconv.Itoa(len(r.durations)),
			r.mean().String(), r.percentile(0.5).String(), r.percentile(0.99).String(), r.percentile(1).String(),
		})
	}
	renderTable(cmd.OutOrStdout(), []string{"MODEL", "CALLS", "MEAN", "P50", "P99", "MAX"}, data)

	calls := parallel * iterations
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d calls in %s (%.1f calls/s)\n", calls, elapsed.Round(time.Millisecond), float64(calls)/elapsed.Seconds())
	return nil
}

// benchModel - Ein Modell mit eigenem Pool, ausgefuehrt in einer Goroutine
func benchModel(ctx context.Context, p multimodal.Params, iterations, warmup int) (benchResult, error) {
	m, err := multimodal.Create(p)
	if err != nil {
		return benchResult{}, err
	}
	defer m.Close()

	in := syntheticInput(p.Modalities)
	out, err := multimodal.NewOutput(m.OutputDim(), 1, 0, 0)
	if err != nil {
		return benchResult{}, err
	}

	for range warmup {
		if err := m.Process(in, out); err != nil {
			return benchResult{}, err
		}
	}

	res := benchResult{durations: make([]time.Duration, 0, iterations)}
	for range iterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		start := time.Now()
		if err := m.Process(in, out); err != nil {
			return res, err
		}
		res.durations = append(res.durations, time.Since(start))
	}
	return res, nil
}

// syntheticInput - Deterministische Eingaben passend zu den Modalitaeten
func syntheticInput(modalities []multimodal.ModalityConfig) *multimodal.Input {
	in := multimodal.NewInput()
	for _, cfg := range modalities {
		switch cfg := cfg.(type) {
		case multimodal.TextConfig:
			tokens := make([]int32, max(cfg.MaxTokens/2, 1))
			for i := range tokens {
				tokens[i] = int32(i * 7)
			}
			in.SetText(tokens, multimodal.Owned)
		case multimodal.ImageConfig:
			img := image.NewRGBA(image.Rect(0, 0, cfg.Width, cfg.Height))
			for y := range cfg.Height {
				for x := range cfg.Width {
					img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
				}
			}
			in.SetImage(img, multimodal.Owned)
		case multimodal.AudioConfig:
			samples := make([]float32, cfg.InputDim())
			for i := range samples {
				samples[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / float64(cfg.SampleRate)))
			}
			in.SetAudio(samples, cfg.SampleRate, multimodal.Owned)
		}
	}
	return in
}
