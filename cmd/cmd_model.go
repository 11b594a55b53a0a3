// cmd_model.go - Modell-Flags und Modellaufbau fuer alle Commands
// Hauptfunktionen: addModelFlags, modelFromFlags, parseTokens
package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/edgefuse/envconfig"
	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/multimodal"
)

// addModelFlags - Registriert die Flags, die ein Modell beschreiben
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("modality", "m", nil, "Modality as text:<maxTokens>x<embedDim>, image:<width>x<height>x<channels> or audio:<sampleRate>x<seconds> (repeatable)")
	cmd.Flags().String("method", "concat", "Fusion method: concat, add, multiply, attention, cross-attention")
	cmd.Flags().Int("fusion-dim", 256, "Embedding width of every modality encoder")
	cmd.Flags().Int("layers", 1, "Number of declared fusion layers")
	cmd.Flags().StringP("weights", "w", "", "GGUF weights file (name or path)")
	cmd.Flags().Bool("quantize", envconfig.Quantize(), "Hold weights in 4-bit blocks")
	cmd.Flags().Bool("simd", envconfig.SIMD(true), "Use the vectorized projection kernel")
	cmd.Flags().Bool("learned", false, "Initialize learned fusion weights if the weights file has none")
	cmd.Flags().Uint64("seed", 0, "Seed for weight initialization")
}

// modelParams - Liest die Modell-Flags in Params
func modelParams(cmd *cobra.Command) (multimodal.Params, error) {
	specs, err := cmd.Flags().GetStringSlice("modality")
	if err != nil {
		return multimodal.Params{}, err
	}
	if len(specs) == 0 {
		return multimodal.Params{}, fmt.Errorf("at least one --modality is required")
	}

	modalities := make([]multimodal.ModalityConfig, len(specs))
	for i, s := range specs {
		if modalities[i], err = multimodal.ParseModality(s); err != nil {
			return multimodal.Params{}, err
		}
	}

	name, _ := cmd.Flags().GetString("method")
	method, err := fusion.ParseMethod(name)
	if err != nil {
		return multimodal.Params{}, err
	}

	fusionDim, _ := cmd.Flags().GetInt("fusion-dim")
	layers, _ := cmd.Flags().GetInt("layers")
	weights, _ := cmd.Flags().GetString("weights")
	quantize, _ := cmd.Flags().GetBool("quantize")
	simd, _ := cmd.Flags().GetBool("simd")
	learned, _ := cmd.Flags().GetBool("learned")
	seed, _ := cmd.Flags().GetUint64("seed")

	p := multimodal.DefaultParams(modalities, method, fusionDim)
	p.Apply(
		multimodal.WithFusionLayers(layers),
		multimodal.WithQuantization(quantize),
		multimodal.WithSIMD(simd),
		multimodal.WithLearnedFusion(learned),
		multimodal.WithSeed(seed),
		multimodal.WithLogger(slog.Default()),
	)
	if weights != "" {
		p.Apply(multimodal.WithWeightsFile(weights))
	}
	return p, nil
}

// modelFromFlags - Baut ein Modell aus den Flags
func modelFromFlags(cmd *cobra.Command) (*multimodal.Model, error) {
	p, err := modelParams(cmd)
	if err != nil {
		return nil, err
	}
	return multimodal.Create(p)
}

// parseTokens - Parst eine kommaseparierte Token-Liste ("1,2,3")
func parseTokens(s string) ([]int32, error) {
	var tokens []int32
	for f := range strings.SplitSeq(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid token %q: %w", f, err)
		}
		tokens = append(tokens, int32(n))
	}
	return tokens, nil
}
