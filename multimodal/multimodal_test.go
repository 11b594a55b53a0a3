package multimodal

import (
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/edgefuse/fusion"
	"github.com/ollama/edgefuse/pool"
)

var (
	textCfg  = TextConfig{MaxTokens: 16, EmbedDim: 8}
	imageCfg = ImageConfig{Width: 8, Height: 8, Channels: 3}
	audioCfg = AudioConfig{SampleRate: 64, DurationSec: 1}
)

func testModel(t *testing.T, modalities []ModalityConfig, method fusion.Method, fusionDim int, opts ...Option) *Model {
	t.Helper()

	opts = append([]Option{
		WithSeed(1),
		WithSIMD(false),
		WithQuantization(false),
		WithPoolLimit(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	m, err := New(modalities, method, fusionDim, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testInput() *Input {
	in := NewInput()
	in.SetText([]int32{1, 5, 9, 5}, Borrowed)

	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			img.Set(x, y, color.RGBA{uint8(x * 16), uint8(y * 16), 128, 255})
		}
	}
	in.SetImage(img, Borrowed)

	samples := make([]float32, 48)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) / 3))
	}
	in.SetAudio(samples, 0, Borrowed)
	return in
}

func testOutput(t *testing.T, m *Model) *Output {
	t.Helper()
	out, err := NewOutput(m.OutputDim(), 1, 0, 0)
	require.NoError(t, err)
	return out
}

func process(t *testing.T, m *Model, in *Input) []float32 {
	t.Helper()
	out := testOutput(t, m)
	require.NoError(t, m.Process(in, out))
	return out.Embeddings
}

func TestEncoderSizing(t *testing.T) {
	cases := []struct {
		cfg                          ModalityConfig
		quantized                    bool
		inputDim, weights, bias, out int
	}{
		{textCfg, false, 16, (16*8 + 8*32) * 4, 32 * 4, 32 * 4},
		{textCfg, true, 16, (16*8 + 8*32 + 1) / 2, 32 * 4, 32 * 4},
		{imageCfg, false, 192, (192*64 + 64*32) * 4, (64 + 32) * 4, 32 * 4},
		{imageCfg, true, 192, (192*64 + 64*32 + 1) / 2, (64 + 32) * 4, 32 * 4},
		{audioCfg, false, 64, (64*64 + 64*32) * 4, (64 + 32) * 4, 32 * 4},
		{AudioConfig{SampleRate: 3, DurationSec: 1}, true, 3, (3*64 + 64*32 + 1) / 2, (64 + 32) * 4, 32 * 4},
	}

	for _, tt := range cases {
		t.Run(tt.cfg.String(), func(t *testing.T) {
			e, err := NewEncoder(0, tt.cfg, 32, tt.quantized)
			require.NoError(t, err)

			got := []int{e.InputDim, e.WeightBytes, e.BiasBytes, e.OutputBytes}
			want := []int{tt.inputDim, tt.weights, tt.bias, tt.out}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("[inputDim weights bias output] (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncoderInvalid(t *testing.T) {
	cases := map[string]ModalityConfig{
		"nil":          nil,
		"pointer":      &TextConfig{MaxTokens: 4, EmbedDim: 4},
		"zero tokens":  TextConfig{MaxTokens: 0, EmbedDim: 4},
		"two channels": ImageConfig{Width: 4, Height: 4, Channels: 2},
		"no duration":  AudioConfig{SampleRate: 16000},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewEncoder(0, cfg, 8, false)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewEncoder(0, textCfg, 0, false)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFusionLayerSizing(t *testing.T) {
	attn, err := NewFusionLayer(0, fusion.MethodAttention, []int{32, 32, 32}, 32, false)
	require.NoError(t, err)
	assert.Equal(t, 96*32*4, attn.WeightBytes)
	assert.Equal(t, 32*4, attn.BiasBytes)
	assert.Equal(t, 32*4, attn.OutputBytes)

	attnQ, err := NewFusionLayer(0, fusion.MethodAttention, []int{32, 32, 32}, 32, true)
	require.NoError(t, err)
	assert.Equal(t, 96*32/2, attnQ.WeightBytes)

	concat, err := NewFusionLayer(0, fusion.MethodConcat, []int{32, 16}, 32, false)
	require.NoError(t, err)
	assert.Equal(t, 48, concat.OutputDim)
	assert.Zero(t, concat.WeightBytes)
	assert.Zero(t, concat.BiasBytes)

	cross, err := NewFusionLayer(0, fusion.MethodCrossAttention, []int{32, 32}, 32, false)
	require.NoError(t, err)
	assert.Equal(t, 64, cross.OutputDim)
	assert.Zero(t, cross.WeightBytes)

	_, err = NewFusionLayer(0, fusion.MethodCrossAttention, []int{32, 32, 32}, 32, false)
	require.ErrorIs(t, err, ErrInvalidConfig)
	require.ErrorIs(t, err, fusion.ErrDimension)

	_, err = NewFusionLayer(0, fusion.Method(42), []int{32}, 32, false)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMemoryUsage(t *testing.T) {
	all := []ModalityConfig{textCfg, imageCfg, audioCfg}

	m := testModel(t, all, fusion.MethodConcat, 32)
	weights, activations := m.MemoryUsage()
	assert.Equal(t, 84352, weights)
	assert.Equal(t, 96*4, activations)

	m = testModel(t, all, fusion.MethodAttention, 32, WithFusionLayers(2))
	weights, activations = m.MemoryUsage()
	assert.Equal(t, 84352+2*(96*32*4+32*4), weights)
	assert.Equal(t, 32*4, activations)

	m = testModel(t, all, fusion.MethodAttention, 32, WithFusionLayers(0))
	weights, _ = m.MemoryUsage()
	assert.Equal(t, 84352, weights)
}

func TestMemoryUsageQuantizedNotLarger(t *testing.T) {
	for _, method := range []fusion.Method{fusion.MethodConcat, fusion.MethodAdd, fusion.MethodAttention} {
		t.Run(method.String(), func(t *testing.T) {
			mods := []ModalityConfig{textCfg, imageCfg, audioCfg}
			full := testModel(t, mods, method, 32)
			quant := testModel(t, mods, method, 32, WithQuantization(true))

			fw, fa := full.MemoryUsage()
			qw, qa := quant.MemoryUsage()
			if qw > fw {
				t.Errorf("quantisiert %d > voll %d", qw, fw)
			}
			if qa != fa {
				t.Errorf("Aktivierungen %d != %d", qa, fa)
			}
		})
	}
}

func TestCreateInvalid(t *testing.T) {
	cases := []struct {
		name       string
		modalities []ModalityConfig
		method     fusion.Method
		fusionDim  int
		opts       []Option
		want       error
	}{
		{"keine modalitaeten", nil, fusion.MethodConcat, 8, nil, ErrInvalidConfig},
		{"fusionDim null", []ModalityConfig{textCfg}, fusion.MethodConcat, 0, nil, ErrInvalidConfig},
		{"nil modality", []ModalityConfig{textCfg, nil}, fusion.MethodConcat, 8, nil, ErrInvalidConfig},
		{"unbekannte methode", []ModalityConfig{textCfg}, fusion.Method(9), 8, nil, ErrInvalidConfig},
		{"cross mit drei", []ModalityConfig{textCfg, imageCfg, audioCfg}, fusion.MethodCrossAttention, 8, nil, ErrInvalidConfig},
		{"negative layer", []ModalityConfig{textCfg}, fusion.MethodAdd, 8, []Option{WithFusionLayers(-1)}, ErrInvalidConfig},
		{"pool limit", []ModalityConfig{textCfg}, fusion.MethodAdd, 8, []Option{WithPoolLimit(64)}, ErrAllocationFailure},
		{"fehlende datei", []ModalityConfig{textCfg}, fusion.MethodAdd, 8, []Option{WithWeightsFile(filepath.Join(t.TempDir(), "missing.gguf"))}, ErrInvalidConfig},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, tt.opts...)
			m, err := New(tt.modalities, tt.method, tt.fusionDim, opts...)
			require.ErrorIs(t, err, tt.want)
			require.Nil(t, m)

			var mmErr *Error
			require.ErrorAs(t, err, &mmErr)
			assert.Equal(t, "create", mmErr.Op)
		})
	}
}

func TestProcessMissingModality(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg, imageCfg}, fusion.MethodConcat, 32)

	in := testInput()
	in.Text = nil

	out := testOutput(t, m)
	for i := range out.Embeddings {
		out.Embeddings[i] = 42
	}

	err := m.Process(in, out)
	require.ErrorIs(t, err, ErrMissingModality)

	var mmErr *Error
	require.ErrorAs(t, err, &mmErr)
	assert.Equal(t, "text", mmErr.Modality)

	for i, v := range out.Embeddings {
		if v != 42 {
			t.Fatalf("Embeddings[%d] = %v, Output wurde veraendert", i, v)
		}
	}
	assert.Zero(t, m.Pool().Stats().ActivationUsed)

	require.ErrorIs(t, m.Process(nil, out), ErrMissingModality)
}

func TestProcessOutputValidation(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg, audioCfg}, fusion.MethodConcat, 32)

	wrong, err := NewOutput(32, 1, 0, 0)
	require.NoError(t, err)
	require.ErrorIs(t, m.Process(testInput(), wrong), ErrDimensionMismatch)
	if slices.ContainsFunc(wrong.Embeddings, func(v float32) bool { return v != 0 }) {
		t.Error("Output wurde trotz Fehler beschrieben")
	}

	require.ErrorIs(t, m.Process(testInput(), &Output{}), ErrInvalidConfig)
	require.ErrorIs(t, m.Process(testInput(), nil), ErrInvalidConfig)
}

// stubBackbone liefert konstante Merkmale und optional Logits.
type stubBackbone struct {
	value float32
	err   error
}

func (b *stubBackbone) Extract(dst []float32, _ ModalityConfig, _ *Input) error {
	if b.err != nil {
		return b.err
	}
	for i := range dst {
		dst[i] = b.value
	}
	return nil
}

func (b *stubBackbone) Logits(dst, fused []float32) error {
	for i := range dst {
		dst[i] = fused[i%len(fused)] * 2
	}
	return nil
}

// embeddings berechnet die Encoder-Ausgaben mit dem Stub direkt.
func embeddings(t *testing.T, m *Model, value float32) [][]float32 {
	t.Helper()
	var outs [][]float32
	for _, e := range m.Encoders() {
		x := make([]float32, e.InputDim)
		for i := range x {
			x[i] = value
		}
		dst := make([]float32, e.OutputDim)
		require.NoError(t, e.forward(nil, dst, x, make([]float32, e.HiddenDim), false))
		outs = append(outs, dst)
	}
	return outs
}

func TestProcessFusionMethods(t *testing.T) {
	mods := []ModalityConfig{textCfg, imageCfg, audioCfg}
	approx := cmpopts.EquateApprox(1e-5, 1e-6)

	t.Run("concat", func(t *testing.T) {
		m := testModel(t, mods, fusion.MethodConcat, 32, WithBackbone(&stubBackbone{value: 0.5}))
		want := slices.Concat(embeddings(t, m, 0.5)...)
		if diff := cmp.Diff(want, process(t, m, testInput()), approx); diff != "" {
			t.Errorf("Concat (-want +got):\n%s", diff)
		}
	})

	t.Run("add", func(t *testing.T) {
		m := testModel(t, mods, fusion.MethodAdd, 32, WithBackbone(&stubBackbone{value: 0.5}))
		embs := embeddings(t, m, 0.5)
		want := make([]float32, 32)
		for _, e := range embs {
			for i, v := range e {
				want[i] += v
			}
		}
		if diff := cmp.Diff(want, process(t, m, testInput()), approx); diff != "" {
			t.Errorf("Add (-want +got):\n%s", diff)
		}
	})

	t.Run("multiply", func(t *testing.T) {
		m := testModel(t, mods, fusion.MethodMultiply, 32, WithBackbone(&stubBackbone{value: 0.5}))
		embs := embeddings(t, m, 0.5)
		want := make([]float32, 32)
		for i := range want {
			want[i] = embs[0][i] * embs[1][i] * embs[2][i]
		}
		if diff := cmp.Diff(want, process(t, m, testInput()), approx); diff != "" {
			t.Errorf("Multiply (-want +got):\n%s", diff)
		}
	})

	for _, learned := range []bool{false, true} {
		name := "attention"
		if learned {
			name += " learned"
		}
		t.Run(name, func(t *testing.T) {
			m := testModel(t, mods, fusion.MethodAttention, 32, WithBackbone(&stubBackbone{value: 0.5}), WithLearnedFusion(learned))
			require.Equal(t, learned, m.FusionLayer().Learned())

			embs := embeddings(t, m, 0.5)
			got := process(t, m, testInput())

			// Konvexe Kombination: jeder Wert liegt zwischen Minimum und Maximum
			for i, v := range got {
				lo := min(embs[0][i], embs[1][i], embs[2][i])
				hi := max(embs[0][i], embs[1][i], embs[2][i])
				if v < lo-1e-5 || v > hi+1e-5 {
					t.Fatalf("got[%d] = %v ausserhalb [%v, %v]", i, v, lo, hi)
				}
			}
		})
	}

	for _, learned := range []bool{false, true} {
		m := testModel(t, []ModalityConfig{imageCfg, audioCfg}, fusion.MethodCrossAttention, 32, WithLearnedFusion(learned))
		require.Equal(t, 64, m.OutputDim())

		got := process(t, m, testInput())
		require.Len(t, got, 64)
		for i, v := range got {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				t.Fatalf("learned=%v: got[%d] = %v", learned, i, v)
			}
		}
		assert.Zero(t, m.Pool().Stats().ActivationUsed)
	}
}

func TestProcessDeterministic(t *testing.T) {
	mods := []ModalityConfig{textCfg, imageCfg, audioCfg}

	a := process(t, testModel(t, mods, fusion.MethodConcat, 32, WithSeed(3)), testInput())
	b := process(t, testModel(t, mods, fusion.MethodConcat, 32, WithSeed(3)), testInput())
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("gleicher Seed, andere Ausgabe (-a +b):\n%s", diff)
	}

	c := process(t, testModel(t, mods, fusion.MethodConcat, 32, WithSeed(4)), testInput())
	if cmp.Equal(a, c) {
		t.Error("anderer Seed, gleiche Ausgabe")
	}
}

func TestProcessScalarAndSIMDAgree(t *testing.T) {
	mods := []ModalityConfig{textCfg, imageCfg, audioCfg}

	for _, quantized := range []bool{false, true} {
		scalar := testModel(t, mods, fusion.MethodAttention, 32, WithQuantization(quantized), WithLearnedFusion(true))
		simd := testModel(t, mods, fusion.MethodAttention, 32, WithQuantization(quantized), WithLearnedFusion(true), WithSIMD(true))

		want := process(t, scalar, testInput())
		got := process(t, simd, testInput())
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-4, 1e-5)); diff != "" {
			t.Errorf("quantized=%v: Skalar und SIMD weichen ab (-scalar +simd):\n%s", quantized, diff)
		}
	}
}

func TestProcessMultiRowOutput(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32)

	out, err := NewOutput(32, 2, 0, 0)
	require.NoError(t, err)
	for i := range out.Embedding(1) {
		out.Embedding(1)[i] = 7
	}

	require.NoError(t, m.Process(testInput(), out))
	for _, v := range out.Embedding(1) {
		if v != 7 {
			t.Fatalf("Zeile 1 wurde veraendert: %v", out.Embedding(1))
		}
	}
}

func TestProcessEncoderFailure(t *testing.T) {
	stubErr := errors.New("backbone kaputt")
	m := testModel(t, []ModalityConfig{audioCfg}, fusion.MethodAdd, 32, WithBackbone(&stubBackbone{err: stubErr}))

	err := m.Process(testInput(), testOutput(t, m))
	require.ErrorIs(t, err, ErrEncoderFailure)
	require.ErrorIs(t, err, stubErr)

	text := testModel(t, []ModalityConfig{TextConfig{MaxTokens: 2, EmbedDim: 4}}, fusion.MethodAdd, 8)
	err = text.Process(testInput(), testOutput(t, text))
	require.ErrorIs(t, err, ErrEncoderFailure)
	require.ErrorIs(t, err, ErrTooManyTokens)
	assert.Zero(t, text.Pool().Stats().ActivationUsed)
}

func TestProcessLogitsProducer(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32, WithBackbone(&stubBackbone{value: 1}))

	out, err := NewOutput(32, 1, 5, 3)
	require.NoError(t, err)
	require.NoError(t, m.Process(testInput(), out))

	for i, v := range out.TextLogits {
		if v != out.Embeddings[i]*2 {
			t.Errorf("TextLogits[%d] = %v, erwartet %v", i, v, out.Embeddings[i]*2)
		}
	}
	if diff := cmp.Diff([]float32{0, 0, 0}, out.ImageFeatures); diff != "" {
		t.Errorf("ImageFeatures ohne Producer veraendert (-want +got):\n%s", diff)
	}
}

func TestAudioResampledInput(t *testing.T) {
	m := testModel(t, []ModalityConfig{AudioConfig{SampleRate: 32, DurationSec: 1}}, fusion.MethodAdd, 8)

	in := testInput()
	in.SetAudio(in.Audio, 64, Borrowed)
	process(t, m, in)
}

func TestSetMemoryPool(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg, audioCfg}, fusion.MethodConcat, 32)
	want := process(t, m, testInput())

	owned := m.Pool()
	require.True(t, m.OwnsPool())

	weights, activations := m.PoolSize()
	ext, err := pool.Create(weights, activations, false)
	require.NoError(t, err)

	require.NoError(t, m.SetMemoryPool(ext))
	require.True(t, owned.Freed(), "eigener Pool nicht freigegeben")
	require.False(t, m.OwnsPool())
	require.Same(t, ext, m.Pool())
	if diff := cmp.Diff(want, process(t, m, testInput())); diff != "" {
		t.Errorf("Ausgabe nach Pool-Wechsel (-want +got):\n%s", diff)
	}

	ext2, err := pool.Create(weights, activations, false)
	require.NoError(t, err)
	require.NoError(t, m.SetMemoryPool(ext2))
	require.False(t, ext.Freed(), "geliehener Pool wurde freigegeben")

	small, err := pool.Create(64, 64, false)
	require.NoError(t, err)
	require.ErrorIs(t, m.SetMemoryPool(small), ErrAllocationFailure)
	require.Same(t, ext2, m.Pool())
	process(t, m, testInput())

	require.NoError(t, m.SetMemoryPool(ext2))
	require.ErrorIs(t, m.SetMemoryPool(nil), ErrInvalidConfig)

	require.NoError(t, m.Close())
	require.False(t, ext2.Freed(), "Close hat geliehenen Pool freigegeben")
}

func TestCreateWithMemoryPool(t *testing.T) {
	sizing := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32)
	weights, activations := sizing.PoolSize()

	ext, err := pool.Create(weights, activations, true)
	require.NoError(t, err)

	m := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32, WithMemoryPool(ext))
	require.False(t, m.OwnsPool())
	if diff := cmp.Diff(process(t, sizing, testInput()), process(t, m, testInput())); diff != "" {
		t.Errorf("Ausgabe mit geliehenem Pool (-want +got):\n%s", diff)
	}

	m.EnableSIMD(false)
	assert.True(t, ext.SIMD(), "EnableSIMD hat geliehenen Pool veraendert")

	_, err = New([]ModalityConfig{textCfg}, fusion.MethodAdd, 32, WithMemoryPool(ext))
	require.ErrorIs(t, err, ErrAllocationFailure)
}

func TestPlaceRollback(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg, audioCfg}, fusion.MethodConcat, 32, WithQuantization(true))
	weights, activations := m.PoolSize()

	p, err := pool.Create(weights/2, activations, false)
	require.NoError(t, err)
	_, err = p.AllocBytes(16)
	require.NoError(t, err)

	err = m.place(p)
	require.ErrorIs(t, err, pool.ErrExhausted)
	assert.Equal(t, 16, p.Stats().WeightUsed, "teilweise kopierte Gewichte nicht zurueckgesetzt")

	// alte Gewichte bleiben aktiv
	require.Len(t, process(t, m, testInput()), m.OutputDim())
}

func TestProcessQuantizedSIMDScratch(t *testing.T) {
	mods := []ModalityConfig{imageCfg, audioCfg}
	for _, method := range []fusion.Method{fusion.MethodAttention, fusion.MethodCrossAttention} {
		t.Run(method.String(), func(t *testing.T) {
			m := testModel(t, mods, method, 64, WithQuantization(true), WithLearnedFusion(true), WithSIMD(true))
			got := process(t, m, testInput())
			require.Len(t, got, m.OutputDim())
			assert.Zero(t, m.Pool().Stats().ActivationUsed)
		})
	}
}

func TestEnableSIMD(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32)

	m.EnableSIMD(true)
	assert.True(t, m.SIMD())
	assert.Equal(t, pool.SIMDAlignment, m.Pool().Stats().Alignment)

	m.EnableSIMD(false)
	assert.False(t, m.SIMD())
	assert.Equal(t, pool.DefaultAlignment, m.Pool().Stats().Alignment)
}

func TestClose(t *testing.T) {
	m := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32)
	p := m.Pool()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	require.True(t, p.Freed())

	require.ErrorIs(t, m.Process(testInput(), &Output{Embeddings: make([]float32, 32), EmbedDim: 32, Length: 1}), ErrInvalidConfig)
	require.ErrorIs(t, m.SetMemoryPool(p), ErrInvalidConfig)

	weights, _ := m.MemoryUsage()
	assert.Positive(t, weights)
}

func TestWeightsRoundTrip(t *testing.T) {
	// Alle Matrizen haben cols % 32 == 0 und werden als Q4_0 gespeichert
	mods := []ModalityConfig{TextConfig{MaxTokens: 32, EmbedDim: 32}, AudioConfig{SampleRate: 32, DurationSec: 1}}

	for _, quantized := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "weights.gguf")

		src := testModel(t, mods, fusion.MethodAttention, 32, WithQuantization(quantized), WithLearnedFusion(true), WithSeed(7))
		require.NoError(t, src.SaveWeights(path))

		dst := testModel(t, mods, fusion.MethodAttention, 32, WithQuantization(quantized), WithWeightsFile(path), WithSeed(99))
		require.True(t, dst.FusionLayer().Learned())

		srcTensors, dstTensors := src.tensors(), dst.tensors()
		require.Len(t, dstTensors, len(srcTensors))
		for i, st := range srcTensors {
			dt := dstTensors[i]
			require.Equal(t, st.name, dt.name)
			if quantized && !st.bias {
				if diff := cmp.Diff(st.blob.Packed, dt.blob.Packed); diff != "" {
					t.Errorf("%s: Nibbles weichen ab (-src +dst):\n%s", st.name, diff)
				}
				continue
			}
			if diff := cmp.Diff(st.blob.F32, dt.blob.F32); diff != "" {
				t.Errorf("%s: Werte weichen ab (-src +dst):\n%s", st.name, diff)
			}
		}

		want := process(t, src, testInput())
		got := process(t, dst, testInput())
		if diff := cmp.Diff(want, got, cmpopts.EquateApprox(1e-2, 1e-3)); diff != "" {
			t.Errorf("quantized=%v: Ausgabe nach Laden (-src +dst):\n%s", quantized, diff)
		}
	}
}

func TestWeightsFileDequantized(t *testing.T) {
	mods := []ModalityConfig{textCfg, audioCfg}
	path := filepath.Join(t.TempDir(), "q.gguf")

	src := testModel(t, mods, fusion.MethodConcat, 32, WithQuantization(true))
	require.NoError(t, src.SaveWeights(path))

	dst := testModel(t, mods, fusion.MethodConcat, 32, WithWeightsFile(path))
	require.False(t, dst.Quantized())
	process(t, dst, testInput())
}

func TestWeightsFileMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.gguf")
	src := testModel(t, []ModalityConfig{textCfg}, fusion.MethodAdd, 32)
	require.NoError(t, src.SaveWeights(path))

	cases := map[string]struct {
		mods      []ModalityConfig
		method    fusion.Method
		fusionDim int
	}{
		"fusion dim":  {[]ModalityConfig{textCfg}, fusion.MethodAdd, 16},
		"methode":     {[]ModalityConfig{textCfg}, fusion.MethodMultiply, 32},
		"modalitaet":  {[]ModalityConfig{TextConfig{MaxTokens: 8, EmbedDim: 8}}, fusion.MethodAdd, 32},
		"zusaetzlich": {[]ModalityConfig{textCfg, audioCfg}, fusion.MethodAdd, 32},
	}
	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(tt.mods, tt.method, tt.fusionDim, WithWeightsFile(path), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultParamsWeightsEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fusion.gguf"), nil, 0o644))
	t.Setenv("EDGEFUSE_MODELS", dir)
	t.Setenv("EDGEFUSE_WEIGHTS", "fusion.gguf")

	p := DefaultParams([]ModalityConfig{textCfg}, fusion.MethodAdd, 32)
	assert.Equal(t, filepath.Join(dir, "fusion.gguf"), p.WeightsFile)

	t.Setenv("EDGEFUSE_WEIGHTS", "")
	assert.Empty(t, DefaultParams([]ModalityConfig{textCfg}, fusion.MethodAdd, 32).WeightsFile)
}

func TestInputFree(t *testing.T) {
	owned := []int32{1, 2, 3}
	borrowed := []float32{0.5, 0.25}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = 200

	in := NewInput()
	in.SetText(owned, Owned)
	in.SetAudio(borrowed, 16000, Borrowed)
	in.SetImage(img, Owned)
	require.True(t, in.Has(KindText))
	require.True(t, in.Has(KindImage))

	in.Free(true)
	assert.Equal(t, []int32{0, 0, 0}, owned)
	assert.Equal(t, []float32{0.5, 0.25}, borrowed)
	assert.Zero(t, img.Pix[0])
	assert.False(t, in.Has(KindText))
	assert.False(t, in.Has(KindAudio))

	kept := []int32{4}
	in.SetText(kept, Owned)
	in.Free(false)
	assert.Equal(t, []int32{4}, kept)
	assert.Nil(t, in.Text)
}

func TestInputFreeImageTypes(t *testing.T) {
	r := image.Rect(0, 0, 2, 2)
	nrgba := image.NewNRGBA(r)
	gray := image.NewGray(r)
	ycc := image.NewYCbCr(r, image.YCbCrSubsampleRatio420)
	nrgba.Pix[1], gray.Pix[2], ycc.Y[0], ycc.Cb[0] = 7, 9, 11, 13

	for name, img := range map[string]image.Image{"nrgba": nrgba, "gray": gray, "ycbcr": ycc} {
		in := NewInput()
		in.SetImage(img, Owned)
		in.Free(true)
		assert.Nil(t, in.Image, name)
	}
	assert.Zero(t, nrgba.Pix[1])
	assert.Zero(t, gray.Pix[2])
	assert.Zero(t, ycc.Y[0])
	assert.Zero(t, ycc.Cb[0])

	borrowed := image.NewGray(r)
	borrowed.Pix[0] = 5
	in := NewInput()
	in.SetImage(borrowed, Borrowed)
	in.Free(true)
	assert.Equal(t, uint8(5), borrowed.Pix[0], "geliehenes Bild wurde geloescht")
}

func TestNewOutput(t *testing.T) {
	out, err := NewOutput(4, 2, 10, 0)
	require.NoError(t, err)
	assert.Len(t, out.Embeddings, 8)
	assert.Len(t, out.TextLogits, 10)
	assert.Nil(t, out.ImageFeatures)

	out.Free()
	assert.Nil(t, out.Embeddings)

	for _, dims := range [][2]int{{0, 1}, {4, 0}, {-1, 1}} {
		_, err := NewOutput(dims[0], dims[1], 0, 0)
		require.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestTokenHistogram(t *testing.T) {
	dst := make([]float32, 4)
	require.NoError(t, TokenHistogram(dst, []int32{1, 5, 2, -1}, 4))
	// -1 -> uint32 0xFFFFFFFF % 4 = 3
	if diff := cmp.Diff([]float32{0, 0.5, 0.25, 0.25}, dst); diff != "" {
		t.Errorf("Histogramm (-want +got):\n%s", diff)
	}

	require.ErrorIs(t, TokenHistogram(dst, make([]int32, 5), 4), ErrTooManyTokens)
}

func TestParseModality(t *testing.T) {
	for _, cfg := range []ModalityConfig{textCfg, imageCfg, audioCfg} {
		got, err := ParseModality(cfg.String())
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
	}

	for _, s := range []string{"text", "text:1", "video:1x2", "image:4x4x2", "audio:ax1"} {
		_, err := ParseModality(s)
		require.ErrorIs(t, err, ErrInvalidConfig, s)
	}
}
