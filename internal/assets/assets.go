package assets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind is the media kind of an asset
type Kind string

const (
	KindImage   Kind = "image"
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindFont    Kind = "font"
	KindUnknown Kind = "unknown"
)

// ErrNotFound is returned when a reference does not name a known asset
var ErrNotFound = errors.New("asset not found")

// Asset is the metadata a composition needs about one media file
type Asset struct {
	ID       string  `yaml:"id" json:"id"`
	Path     string  `yaml:"path" json:"path"`
	Kind     Kind    `yaml:"kind" json:"kind"`
	Width    int     `yaml:"width,omitempty" json:"width,omitempty"`
	Height   int     `yaml:"height,omitempty" json:"height,omitempty"`
	Duration float64 `yaml:"duration,omitempty" json:"duration,omitempty"`
	HasAudio bool    `yaml:"has_audio,omitempty" json:"has_audio,omitempty"`
}

// Resolver looks up assets by id or path. Implementations must treat the
// lookup as read-only.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (Asset, error)
}

// Registry is an in-memory asset catalog
type Registry struct {
	mu     sync.RWMutex
	assets map[string]Asset
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		assets: make(map[string]Asset),
	}
}

// Register adds or replaces an asset. Assets without an id are keyed by path.
func (r *Registry) Register(a Asset) {
	key := a.ID
	if key == "" {
		key = a.Path
	}
	r.mu.Lock()
	r.assets[key] = a
	r.mu.Unlock()
}

// Get retrieves an asset by id
func (r *Registry) Get(id string) (Asset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assets[id]
	return a, ok
}

// Resolve implements Resolver
func (r *Registry) Resolve(_ context.Context, ref string) (Asset, error) {
	if a, ok := r.Get(ref); ok {
		return a, nil
	}
	return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}

// List returns all assets ordered by id
func (r *Registry) List() []Asset {
	r.mu.RLock()
	out := make([]Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type catalogFile struct {
	Assets []Asset `yaml:"assets"`
}

// LoadRegistry reads a YAML catalog of the form `assets: [...]`
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse asset catalog: %w", err)
	}

	reg := NewRegistry()
	for _, a := range file.Assets {
		if a.Kind == "" {
			a.Kind = Classify(a.Path)
		}
		reg.Register(a)
	}
	return reg, nil
}

// Chain tries each resolver in turn, moving on only when an asset is not found
type Chain []Resolver

// Resolve implements Resolver
func (c Chain) Resolve(ctx context.Context, ref string) (Asset, error) {
	for _, r := range c {
		a, err := r.Resolve(ctx, ref)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Asset{}, err
		}
	}
	return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
}
