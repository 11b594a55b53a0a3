package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/edgefuse/multimodal"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("EDGEFUSE_DEBUG", "")

	var buf bytes.Buffer
	cli := NewCLI()
	cli.SetOut(&buf)
	cli.SetErr(&buf)
	cli.SetArgs(args)
	err := cli.Execute()
	return buf.String(), err
}

func TestParseTokens(t *testing.T) {
	cases := map[string][]int32{
		"":          nil,
		"1":         {1},
		"1, 2,3":    {1, 2, 3},
		"4,,5,":     {4, 5},
		"-1,100000": {-1, 100000},
	}
	for in, want := range cases {
		got, err := parseTokens(in)
		require.NoError(t, err, in)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("parseTokens(%q) (-want +got):\n%s", in, diff)
		}
	}

	_, err := parseTokens("1,a")
	require.Error(t, err)
	_, err = parseTokens("99999999999")
	require.Error(t, err)
}

func TestInspect(t *testing.T) {
	out, err := execute(t, "inspect", "-m", "text:16x8", "-m", "audio:64x1", "--method", "attention", "--fusion-dim", "32", "--simd=false")
	require.NoError(t, err)

	for _, want := range []string{"enc.0", "text:16x8", "enc.1", "audio:64x1", "fusion.0", "attention", "declared", "pool"} {
		if !strings.Contains(out, want) {
			t.Errorf("Ausgabe enthaelt %q nicht:\n%s", want, out)
		}
	}
}

func TestInspectErrors(t *testing.T) {
	_, err := execute(t, "inspect")
	require.ErrorContains(t, err, "--modality")

	_, err = execute(t, "inspect", "-m", "video:1x1")
	require.ErrorIs(t, err, multimodal.ErrInvalidConfig)

	_, err = execute(t, "inspect", "-m", "text:4x4", "--method", "median")
	require.Error(t, err)
}

func TestRunJSON(t *testing.T) {
	out, err := execute(t, "run", "-m", "text:8x4", "--method", "add", "--fusion-dim", "8", "--simd=false", "--text", "1,2,3", "--format", "json")
	require.NoError(t, err)

	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "add", res.Method)
	assert.Equal(t, 8, res.Dim)
	assert.Len(t, res.Embedding, 8)
	assert.NotEmpty(t, res.Model)
}

func TestRunTable(t *testing.T) {
	out, err := execute(t, "run", "-m", "text:8x4", "--fusion-dim", "8", "--text", "1", "--format", "table", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "INDEX")
	assert.Contains(t, out, "... 5 more")
}

func TestRunMissingModality(t *testing.T) {
	_, err := execute(t, "run", "-m", "text:8x4", "-m", "audio:8x1", "--fusion-dim", "8", "--text", "1", "--format", "json")
	require.ErrorIs(t, err, multimodal.ErrMissingModality)
}

func TestQuantizeAndRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q4.gguf")
	model := []string{"-m", "text:32x32", "--method", "add", "--fusion-dim", "32", "--simd=false"}

	out, err := execute(t, append(append([]string{"quantize"}, model...), path)...)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	run := func(extra ...string) runResult {
		args := append(append([]string{"run"}, model...), "--text", "3,1,4", "--format", "json")
		out, err := execute(t, append(args, extra...)...)
		require.NoError(t, err)

		var res runResult
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		return res
	}

	loaded := run("-w", path, "--quantize")
	require.True(t, loaded.Quantized)
	require.Len(t, loaded.Embedding, 32)

	// Gleiche Datei, anderer Seed: die Gewichte kommen aus der Datei
	again := run("-w", path, "--quantize", "--seed", "9")
	if diff := cmp.Diff(loaded.Embedding, again.Embedding); diff != "" {
		t.Errorf("Embedding haengt vom Seed ab (-want +got):\n%s", diff)
	}

	_, err = execute(t, "run", "-m", "text:16x32", "--method", "add", "--fusion-dim", "32", "-w", path, "--text", "1")
	require.ErrorIs(t, err, multimodal.ErrInvalidConfig)
}

func TestBench(t *testing.T) {
	out, err := execute(t, "bench", "-m", "text:8x4", "-m", "image:4x4x3", "--method", "concat", "--fusion-dim", "8",
		"--iterations", "3", "--warmup", "1", "--parallel", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "6 calls")

	_, err = execute(t, "bench", "-m", "text:8x4", "--parallel", "0")
	require.Error(t, err)
}

func TestSyntheticInput(t *testing.T) {
	mods := []multimodal.ModalityConfig{
		multimodal.TextConfig{MaxTokens: 1, EmbedDim: 2},
		multimodal.ImageConfig{Width: 3, Height: 2, Channels: 1},
		multimodal.AudioConfig{SampleRate: 10, DurationSec: 2},
	}
	in := syntheticInput(mods)
	for _, k := range []multimodal.Kind{multimodal.KindText, multimodal.KindImage, multimodal.KindAudio} {
		assert.True(t, in.Has(k), k.String())
	}
	assert.Len(t, in.Audio, 20)
	assert.Len(t, in.Text, 1)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, Version)
}
