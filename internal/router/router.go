// Package router resolves an allowed query to a concrete product, target URL,
// and fee intent.
//
// Routing is deterministic keyword matching over a versioned embedded catalog.
// The catalog is also where the source allow-list lives: a target URL outside
// the allowed domain set never leaves this package.
package router

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/feegate-io/feegate/internal/scenario"
	"github.com/feegate-io/feegate/rules"
)

// Routing failures. The pipeline maps these onto fixed-message refusals
// (UNKNOWN_SOURCE and UNDOCUMENTED_FEE respectively).
var (
	ErrUnknownProduct = errors.New("query does not reference a product on the approved source list")
	ErrUnknownIntent  = errors.New("query does not reference a documented fee category")
)

// RoutedRequest carries a resolved query through the rest of the pipeline.
type RoutedRequest struct {
	OriginalQuery         string `json:"original_query"`
	TargetProductName     string `json:"target_product_name"`
	TargetURL             string `json:"target_url"`
	Intent                string `json:"intent"`
	ClarificationNeeded   bool   `json:"is_clarification_needed"`
	ClarificationQuestion string `json:"clarification_question,omitempty"`
	ClarifierVersion      string `json:"clarifier_version,omitempty"`
	ForceRefresh          bool   `json:"force_refresh"`
}

type catalogFile struct {
	Version        string         `yaml:"version"`
	AllowedDomains []string       `yaml:"allowed_domains"`
	Products       []ProductEntry `yaml:"products"`
	Intents        []IntentRule   `yaml:"intents"`
}

// ProductEntry is one approved product and its official fee-schedule URL.
type ProductEntry struct {
	Name    string   `yaml:"name"`
	URL     string   `yaml:"url"`
	Aliases []string `yaml:"aliases"`
}

// IntentRule is one registered fee intent with its keyword set. Rules run in
// declaration order, first match wins.
type IntentRule struct {
	Code     string   `yaml:"code"`
	Keywords []string `yaml:"keywords"`
}

// Router matches queries against the product catalog and intent tables.
// Immutable after construction, safe for concurrent use.
type Router struct {
	version        string
	allowedDomains []string
	products       []ProductEntry
	intents        []IntentRule
	scenarios      *scenario.Registry
}

// Parse parses and validates catalog YAML against the clarifier registry.
// Every catalog intent must be registered and every product URL must sit on
// an allow-listed domain; a bad catalog is a startup failure, not a runtime
// surprise.
func Parse(data []byte, scenarios *scenario.Registry) (*Router, error) {
	var cf catalogFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parsing catalog YAML: %w", err)
	}
	if cf.Version == "" {
		return nil, fmt.Errorf("invalid catalog: missing version")
	}
	if len(cf.AllowedDomains) == 0 {
		return nil, fmt.Errorf("invalid catalog: empty domain allow-list")
	}

	r := &Router{
		version:        cf.Version,
		allowedDomains: cf.AllowedDomains,
		products:       cf.Products,
		intents:        cf.Intents,
		scenarios:      scenarios,
	}

	for _, p := range cf.Products {
		if err := r.checkAllowedURL(p.URL); err != nil {
			return nil, fmt.Errorf("invalid catalog: product %q: %w", p.Name, err)
		}
	}
	for _, in := range cf.Intents {
		if !scenarios.Registered(in.Code) {
			return nil, fmt.Errorf("invalid catalog: intent %q not in clarifier registry", in.Code)
		}
	}

	return r, nil
}

// NewDefault builds a router from the embedded catalog.
func NewDefault(scenarios *scenario.Registry) (*Router, error) {
	return Parse(rules.CatalogYAML(), scenarios)
}

// Version returns the catalog version tag.
func (r *Router) Version() string {
	return r.version
}

// Route resolves a query into a RoutedRequest. A query that names no approved
// product fails with ErrUnknownProduct; one that names no registered fee
// intent fails with ErrUnknownIntent. When the intent has clarifiers, the
// first unresolved question is attached and ClarificationNeeded is set — the
// caller must round-trip with the user before fetching.
func (r *Router) Route(queryText string, forceRefresh bool) (*RoutedRequest, error) {
	lower := strings.ToLower(queryText)

	product := r.matchProduct(lower)
	if product == nil {
		return nil, ErrUnknownProduct
	}

	intent := r.matchIntent(lower)
	if intent == "" {
		return nil, ErrUnknownIntent
	}

	req := &RoutedRequest{
		OriginalQuery:     queryText,
		TargetProductName: product.Name,
		TargetURL:         product.URL,
		Intent:            intent,
		ForceRefresh:      forceRefresh,
	}

	if clarifiers := r.scenarios.Clarifiers(intent); len(clarifiers) > 0 {
		req.ClarificationNeeded = true
		req.ClarificationQuestion = clarifiers[0]
		req.ClarifierVersion = r.scenarios.Version()
	}

	return req, nil
}

func (r *Router) matchProduct(lowerQuery string) *ProductEntry {
	for i := range r.products {
		p := &r.products[i]
		if strings.Contains(lowerQuery, strings.ToLower(p.Name)) {
			return p
		}
		for _, alias := range p.Aliases {
			if strings.Contains(lowerQuery, alias) {
				return p
			}
		}
	}
	return nil
}

func (r *Router) matchIntent(lowerQuery string) string {
	for _, rule := range r.intents {
		for _, kw := range rule.Keywords {
			if strings.Contains(lowerQuery, kw) {
				return rule.Code
			}
		}
	}
	return ""
}

// ProductURLs returns every catalog product URL, in catalog order.
func (r *Router) ProductURLs() []string {
	urls := make([]string, 0, len(r.products))
	for i := range r.products {
		urls = append(urls, r.products[i].URL)
	}
	return urls
}

// CheckURL verifies an arbitrary URL against the domain allow-list.
func (r *Router) CheckURL(raw string) error {
	return r.checkAllowedURL(raw)
}

// CheckProduct verifies that a product name / URL pair is exactly what the
// catalog registered. Caller-supplied pairs that are off the allow-list or
// not in the catalog fail with ErrUnknownProduct; nothing outside the catalog
// is ever fetched on a caller's say-so.
func (r *Router) CheckProduct(name, rawURL string) error {
	if err := r.checkAllowedURL(rawURL); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownProduct, err)
	}
	for i := range r.products {
		p := &r.products[i]
		if p.Name == name && p.URL == rawURL {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not registered at that URL", ErrUnknownProduct, name)
}

// checkAllowedURL verifies that a URL's host sits on the allow-listed domain
// set (exact match or subdomain).
func (r *Router) checkAllowedURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parsing URL %q: %w", raw, err)
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range r.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return nil
		}
	}
	return fmt.Errorf("host %q is not on the approved domain list", host)
}
