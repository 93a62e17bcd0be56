package common

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/turtacn/progres-go/pkg/errors"
)

// DefaultModelName is the model used when none is selected.
const DefaultModelName = "progres-v0.2"

// builtinModels maps model names to checkpoint paths relative to the data
// directory.
var builtinModels = map[string]string{
	DefaultModelName: filepath.Join("trained_models", "v_0_2_0", "trained_model.safetensors"),
}

// ModelRegistry resolves model names to checkpoint files.
type ModelRegistry struct {
	mu      sync.RWMutex
	dataDir string
	models  map[string]string
}

// NewModelRegistry seeds the registry with the built-in models under dataDir.
func NewModelRegistry(dataDir string) *ModelRegistry {
	r := &ModelRegistry{dataDir: dataDir, models: make(map[string]string, len(builtinModels))}
	for name, rel := range builtinModels {
		r.models[name] = filepath.Join(dataDir, rel)
	}
	return r
}

// Register adds or replaces a model. Relative checkpoint paths are resolved
// against the data directory.
func (r *ModelRegistry) Register(name, checkpoint string) error {
	name = strings.TrimSpace(name)
	if name == "" || checkpoint == "" {
		return errors.InvalidParam("model registration needs a name and a checkpoint path")
	}
	if !filepath.IsAbs(checkpoint) {
		checkpoint = filepath.Join(r.dataDir, checkpoint)
	}
	r.mu.Lock()
	r.models[name] = checkpoint
	r.mu.Unlock()
	return nil
}

// Resolve returns the checkpoint path for name. An empty name selects the
// default model. Unknown names are configuration errors.
func (r *ModelRegistry) Resolve(name string) (string, error) {
	if name == "" {
		name = DefaultModelName
	}
	r.mu.RLock()
	path, ok := r.models[name]
	r.mu.RUnlock()
	if !ok {
		return "", errors.Newf(errors.ErrCodeUnknownModel, "unknown model %q", name).
			WithDetail("known models: " + strings.Join(r.Names(), ", "))
	}
	return path, nil
}

// Names lists registered models in sorted order.
func (r *ModelRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for n := range r.models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
