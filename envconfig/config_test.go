package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
		" '1' ": slog.LevelDebug,
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("EDGEFUSE_DEBUG", value)
			assert.Equal(t, want, LogLevel())
		})
	}
}

func TestBools(t *testing.T) {
	t.Setenv("EDGEFUSE_SIMD", "")
	assert.True(t, SIMD(true))
	assert.False(t, SIMD(false))

	t.Setenv("EDGEFUSE_SIMD", "false")
	assert.False(t, SIMD(true))

	// ungueltige Werte zaehlen als gesetzt
	t.Setenv("EDGEFUSE_QUANTIZE", "yes please")
	assert.True(t, Quantize())

	t.Setenv("EDGEFUSE_QUANTIZE", "0")
	assert.False(t, Quantize())
}

func TestPoolLimit(t *testing.T) {
	t.Setenv("EDGEFUSE_POOL_LIMIT", "")
	assert.Equal(t, uint64(0), PoolLimit())

	t.Setenv("EDGEFUSE_POOL_LIMIT", "1048576")
	assert.Equal(t, uint64(1<<20), PoolLimit())

	t.Setenv("EDGEFUSE_POOL_LIMIT", "-5")
	assert.Equal(t, uint64(0), PoolLimit())
}

func TestNumParallel(t *testing.T) {
	t.Setenv("EDGEFUSE_NUM_PARALLEL", "3")
	assert.Equal(t, uint(3), NumParallel())

	t.Setenv("EDGEFUSE_NUM_PARALLEL", "")
	assert.NotZero(t, NumParallel())
}

func TestModels(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EDGEFUSE_MODELS", dir)
	assert.Equal(t, dir, Models())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.gguf"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "tiny.gguf"), ResolveWeights("tiny.gguf"))
	assert.Equal(t, "missing.gguf", ResolveWeights("missing.gguf"))
	assert.Equal(t, "", ResolveWeights(""))
}

func TestAsMap(t *testing.T) {
	m := AsMap()
	for _, k := range []string{"EDGEFUSE_DEBUG", "EDGEFUSE_MODELS", "EDGEFUSE_WEIGHTS", "EDGEFUSE_SIMD", "EDGEFUSE_QUANTIZE", "EDGEFUSE_POOL_LIMIT", "EDGEFUSE_NUM_PARALLEL"} {
		v, ok := m[k]
		require.True(t, ok, k)
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description)
	}
	assert.Len(t, Values(), len(m))
}

func TestWeights(t *testing.T) {
	t.Setenv("EDGEFUSE_WEIGHTS", " \"fusion.gguf\" ")
	assert.Equal(t, "fusion.gguf", Weights())
	assert.Equal(t, "fusion.gguf", Values()["EDGEFUSE_WEIGHTS"])

	t.Setenv("EDGEFUSE_WEIGHTS", "")
	assert.Empty(t, Weights())
}
