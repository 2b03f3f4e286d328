package timeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is a composition file: what to render and how to compile it
type Document struct {
	Composition Composition     `yaml:"composition" json:"composition"`
	Options     CompilerOptions `yaml:"options,omitempty" json:"options,omitempty"`
}

// ParseDocument decodes a YAML (or JSON) composition document
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse composition: %w", err)
	}
	return &doc, nil
}

// LoadDocument reads a composition document from disk
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read composition: %w", err)
	}
	return ParseDocument(data)
}
