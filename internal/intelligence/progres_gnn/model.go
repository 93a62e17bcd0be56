// Package progres_gnn embeds protein structures with an E(n)-equivariant
// graph neural network evaluated on the CPU.
package progres_gnn

import (
	"context"
	"strconv"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/intelligence/common"
	"github.com/turtacn/progres-go/pkg/errors"
)

// ---------------------------------------------------------------------------
// Graph specification
// ---------------------------------------------------------------------------

// GraphPolicy selects how edges are built.
type GraphPolicy string

const (
	PolicyDistanceCutoff GraphPolicy = "distance_cutoff"
)

// GraphSpec fixes how a structure is turned into a graph. A model only
// accepts graphs built with its own spec.
type GraphSpec struct {
	Policy          GraphPolicy `json:"policy"`
	ContactDistance float64     `json:"contact_distance"`
	PositionalDim   int         `json:"positional_dim"`
	MaxSeparation   int         `json:"max_separation"`
}

// DefaultGraphSpec is the spec of the progres-v0.2 model.
func DefaultGraphSpec() GraphSpec {
	return GraphSpec{
		Policy:          PolicyDistanceCutoff,
		ContactDistance: 10.0,
		PositionalDim:   64,
		MaxSeparation:   64,
	}
}

// NodeDim is the node feature width: sin τ, cos τ, contact count and the
// positional encoding.
func (g GraphSpec) NodeDim() int { return 3 + g.PositionalDim }

// EdgeDim is the edge feature width: sequence separation and the
// sequential-neighbour flag.
func (g GraphSpec) EdgeDim() int { return 2 }

// Validate checks the spec.
func (g GraphSpec) Validate() error {
	if g.Policy != PolicyDistanceCutoff {
		return errors.Newf(errors.ErrCodeInvalidParam, "unsupported graph policy %q", g.Policy)
	}
	if g.ContactDistance <= 0 {
		return errors.InvalidParam("contact distance must be positive")
	}
	if g.PositionalDim < 0 || g.PositionalDim%2 != 0 {
		return errors.InvalidParam("positional dimension must be even and non-negative")
	}
	if g.MaxSeparation <= 0 {
		return errors.InvalidParam("max separation must be positive")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Model configuration
// ---------------------------------------------------------------------------

// ModelConfig describes the network. It is stored in the checkpoint
// metadata.
type ModelConfig struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	HiddenDim    int       `json:"hidden_dim"`
	Layers       int       `json:"layers"`
	EmbeddingDim int       `json:"embedding_dim"`
	Graph        GraphSpec `json:"graph"`
}

// DefaultModelConfig returns the progres-v0.2 architecture.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Name:         common.DefaultModelName,
		Version:      "0.2.0",
		HiddenDim:    128,
		Layers:       6,
		EmbeddingDim: 128,
		Graph:        DefaultGraphSpec(),
	}
}

// Identity is the model identity embeddings are tagged with.
func (c ModelConfig) Identity() common.ModelIdentity {
	return common.ModelIdentity{Name: c.Name, Version: c.Version}
}

// Validate checks the configuration for consistency.
func (c ModelConfig) Validate() error {
	if c.Name == "" {
		return errors.InvalidParam("model name is required")
	}
	if c.HiddenDim <= 0 {
		return errors.InvalidParam("hidden_dim must be positive")
	}
	if c.Layers <= 0 {
		return errors.InvalidParam("layers must be positive")
	}
	if c.EmbeddingDim <= 0 {
		return errors.InvalidParam("embedding_dim must be positive")
	}
	return c.Graph.Validate()
}

// metadata renders the config as safetensors string metadata.
func (c ModelConfig) metadata() map[string]string {
	return map[string]string{
		"model_name":       c.Name,
		"model_version":    c.Version,
		"hidden_dim":       strconv.Itoa(c.HiddenDim),
		"layers":           strconv.Itoa(c.Layers),
		"embedding_dim":    strconv.Itoa(c.EmbeddingDim),
		"graph_policy":     string(c.Graph.Policy),
		"contact_distance": strconv.FormatFloat(c.Graph.ContactDistance, 'g', -1, 64),
		"positional_dim":   strconv.Itoa(c.Graph.PositionalDim),
		"max_separation":   strconv.Itoa(c.Graph.MaxSeparation),
	}
}

// configFromMetadata is the inverse of metadata.
func configFromMetadata(md map[string]string) (ModelConfig, error) {
	var (
		c   ModelConfig
		err error
	)
	atoi := func(key string) int {
		if err != nil {
			return 0
		}
		var v int
		v, err = strconv.Atoi(md[key])
		if err != nil {
			err = errors.Newf(errors.ErrCodeCheckpointCorrupt, "checkpoint metadata %s=%q is not an integer", key, md[key])
		}
		return v
	}
	c.Name = md["model_name"]
	c.Version = md["model_version"]
	c.HiddenDim = atoi("hidden_dim")
	c.Layers = atoi("layers")
	c.EmbeddingDim = atoi("embedding_dim")
	c.Graph.Policy = GraphPolicy(md["graph_policy"])
	c.Graph.PositionalDim = atoi("positional_dim")
	c.Graph.MaxSeparation = atoi("max_separation")
	if err != nil {
		return c, err
	}
	c.Graph.ContactDistance, err = strconv.ParseFloat(md["contact_distance"], 64)
	if err != nil {
		return c, errors.Newf(errors.ErrCodeCheckpointCorrupt, "checkpoint metadata contact_distance=%q", md["contact_distance"])
	}
	if verr := c.Validate(); verr != nil {
		return c, errors.Wrap(verr, errors.ErrCodeCheckpointCorrupt, "invalid model configuration in checkpoint")
	}
	return c, nil
}

// ---------------------------------------------------------------------------
// Embedder
// ---------------------------------------------------------------------------

// Embedder turns structure graphs into embeddings.
type Embedder interface {
	Embed(ctx context.Context, g *StructureGraph) (*embedding.Embedding, error)
	EmbedBatch(ctx context.Context, graphs []*StructureGraph) ([]*embedding.Embedding, error)
	Identity() common.ModelIdentity
	GraphSpec() GraphSpec
	Dim() int
}
