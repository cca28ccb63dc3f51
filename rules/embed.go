// Package rules provides the embedded compliance rule tables.
//
// The tables are versioned, immutable configuration data: a rule change
// requires editing the YAML and bumping its version field, never a runtime
// mutation. The version is stamped into every decision so an auditor can
// reconstruct which table produced it.
package rules

import _ "embed"

//go:embed refusal.yaml
var refusalYAML []byte

//go:embed scenarios.yaml
var scenariosYAML []byte

//go:embed catalog.yaml
var catalogYAML []byte

// RefusalYAML returns the embedded refusal matrix (PII terms, forbidden
// categories, regulatory messages).
func RefusalYAML() []byte { return refusalYAML }

// ScenariosYAML returns the embedded intent → clarifier registry.
func ScenariosYAML() []byte { return scenariosYAML }

// CatalogYAML returns the embedded product catalog and intent keyword tables
// used by the router.
func CatalogYAML() []byte { return catalogYAML }
