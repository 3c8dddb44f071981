// Package plugin is the per-section extension point that validates and
// rewrites client-supplied comment data.
package plugin

import (
	"bytes"
	"encoding/json"
	"sort"
	"sync"
)

// ValidationError is raised by a plugin rejecting client data.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

type Plugin interface {
	Identifier() string
	Name() string
	// CleanClientData validates data and returns the value to persist.
	CleanClientData(data string) (string, error)
}

type Info struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
}

type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		r.Register(p)
	}
	return r
}

// DefaultRegistry holds the map questionnaire plugins shipped with the API.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewJSONPlugin("mapdon-hkr", "Map questionnaire (HKR)"),
		NewJSONPlugin("mapdon-ksv", "Map questionnaire (KSV)"),
		NewJSONPlugin("mapdon-ymk", "Map questionnaire (YMK)"),
	)
}

func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Identifier()] = p
}

// Lookup returns the plugin for identifier. Unknown identifiers resolve to
// nil so callers treat the section as plugin-less.
func (r *Registry) Lookup(identifier string) Plugin {
	if r == nil || identifier == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[identifier]
}

func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, Info{Identifier: p.Identifier(), Name: p.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// JSONPlugin accepts any JSON object and stores it compacted.
type JSONPlugin struct {
	identifier string
	name       string
}

func NewJSONPlugin(identifier, name string) *JSONPlugin {
	return &JSONPlugin{identifier: identifier, name: name}
}

func (p *JSONPlugin) Identifier() string { return p.identifier }
func (p *JSONPlugin) Name() string       { return p.name }

func (p *JSONPlugin) CleanClientData(data string) (string, error) {
	trimmed := bytes.TrimSpace([]byte(data))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", &ValidationError{Message: "plugin data must be a JSON object"}
	}
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, trimmed); err != nil {
		return "", &ValidationError{Message: "plugin data is not valid JSON"}
	}
	return compacted.String(), nil
}

// Func adapts a function into a Plugin.
type Func struct {
	ID    string
	Title string
	Clean func(data string) (string, error)
}

func (f Func) Identifier() string { return f.ID }
func (f Func) Name() string       { return f.Title }

func (f Func) CleanClientData(data string) (string, error) {
	return f.Clean(data)
}
