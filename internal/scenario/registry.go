// Package scenario maps fee intents to the clarifying questions a caller
// should resolve before fetching.
//
// The registry is versioned so downstream consumers can detect drift between
// the clarifier set a user was prompted with and the set in force when their
// answer comes back. A stale version is rejected, never reinterpreted.
package scenario

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/feegate-io/feegate/rules"
)

// ErrStaleVersion reports a clarification answer produced against an older
// registry version.
type ErrStaleVersion struct {
	Got  string
	Want string
}

func (e *ErrStaleVersion) Error() string {
	return fmt.Sprintf("clarifier registry version mismatch: answer carries %q, registry is %q", e.Got, e.Want)
}

type registryFile struct {
	Version   string              `yaml:"version"`
	Scenarios map[string][]string `yaml:"scenarios"`
}

// Registry is an immutable versioned intent → clarifier map.
type Registry struct {
	version   string
	scenarios map[string][]string
}

// Parse parses registry YAML.
func Parse(data []byte) (*Registry, error) {
	var rf registryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	if rf.Version == "" {
		return nil, fmt.Errorf("invalid scenario registry: missing version")
	}
	return &Registry{version: rf.Version, scenarios: rf.Scenarios}, nil
}

// NewDefault returns the registry backed by the embedded scenario table.
func NewDefault() (*Registry, error) {
	return Parse(rules.ScenariosYAML())
}

// MustNewDefault is like NewDefault but panics on error.
func MustNewDefault() *Registry {
	r, err := NewDefault()
	if err != nil {
		panic(fmt.Sprintf("scenario.NewDefault: %v", err))
	}
	return r
}

// Version returns the registry version tag.
func (r *Registry) Version() string {
	return r.version
}

// Clarifiers returns the ordered clarifying questions for an intent, possibly
// empty. Unregistered intents yield no clarifiers.
func (r *Registry) Clarifiers(intent string) []string {
	return r.scenarios[intent]
}

// Registered reports whether the intent exists in the registry.
func (r *Registry) Registered(intent string) bool {
	_, ok := r.scenarios[intent]
	return ok
}

// CheckVersion rejects clarification answers associated with a stale
// registry version.
func (r *Registry) CheckVersion(answerVersion string) error {
	if answerVersion != r.version {
		return &ErrStaleVersion{Got: answerVersion, Want: r.version}
	}
	return nil
}
