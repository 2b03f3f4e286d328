// Package filter builds individual ffmpeg filter expressions. Every function
// is pure and formats numbers deterministically so that whole filter graphs
// can be compared byte for byte.
package filter

import "strings"

// Builder helps construct comma-joined ffmpeg filter chains
type Builder struct {
	filters []string
}

// NewBuilder creates a new filter builder
func NewBuilder() *Builder {
	return &Builder{
		filters: make([]string, 0, 8),
	}
}

// Add appends one or more filters, skipping empty ones
func (b *Builder) Add(filters ...string) *Builder {
	for _, f := range filters {
		if f != "" {
			b.filters = append(b.filters, f)
		}
	}
	return b
}

// AddIf appends a filter only when cond holds
func (b *Builder) AddIf(cond bool, filter string) *Builder {
	if cond {
		return b.Add(filter)
	}
	return b
}

// Len returns the number of filters in the chain
func (b *Builder) Len() int {
	return len(b.filters)
}

// Build returns the complete filter string joined with commas
func (b *Builder) Build() string {
	if len(b.filters) == 0 {
		return ""
	}
	return strings.Join(b.filters, ",")
}
