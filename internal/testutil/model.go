package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/internal/intelligence/progres_gnn"
)

// SmallModelConfig is a cheap network with the production graph spec.
func SmallModelConfig() progres_gnn.ModelConfig {
	cfg := progres_gnn.DefaultModelConfig()
	cfg.HiddenDim = 16
	cfg.Layers = 2
	cfg.EmbeddingDim = 16
	return cfg
}

// WriteModel writes a seeded random checkpoint for cfg into dir and returns
// its path.
func WriteModel(t testing.TB, dir string, cfg progres_gnn.ModelConfig, seed int64) string {
	t.Helper()
	path := filepath.Join(dir, "model.safetensors")
	require.NoError(t, progres_gnn.WriteCheckpoint(path, progres_gnn.RandomCheckpoint(cfg, seed)))
	return path
}
