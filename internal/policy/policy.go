// Package policy parses and evaluates the per-purpose verification
// policy document (spec.md §4.11, C12).
package policy

import (
	"encoding/json"
	"fmt"
	"os"
)

// SchemaVersion is the only policy file schema this service understands.
const SchemaVersion = "pbi-policy-1.0"

// Purpose is one `purposes[]` entry.
type Purpose struct {
	Purpose         string   `json:"purpose"`
	RPIDAllowList   []string `json:"rpIdAllowList"`
	OriginAllowList []string `json:"originAllowList"`
	RequireUP       bool     `json:"requireUP"`
	RequireUV       bool     `json:"requireUV"`
}

// Document is the parsed policy file (spec.md §4.11).
type Document struct {
	Schema    string    `json:"schema"`
	IssuedAt  string    `json:"issuedAt"`
	Issuer    string    `json:"issuer,omitempty"`
	Purposes  []Purpose `json:"purposes"`
}

// Parse validates and parses raw policy JSON.
func Parse(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("policy: parse json: %w", err)
	}
	if doc.Schema != SchemaVersion {
		return nil, fmt.Errorf("policy: unsupported schema %q, expected %q", doc.Schema, SchemaVersion)
	}
	for _, p := range doc.Purposes {
		if len(p.RPIDAllowList) == 0 {
			return nil, fmt.Errorf("policy: purpose %q has an empty rpIdAllowList", p.Purpose)
		}
		if len(p.OriginAllowList) == 0 {
			return nil, fmt.Errorf("policy: purpose %q has an empty originAllowList", p.Purpose)
		}
	}
	return &doc, nil
}

// Load reads and parses a policy file from disk.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read file: %w", err)
	}
	return Parse(raw)
}

// ErrPurposeMismatch is returned when a verify request names a purpose
// absent from the loaded policy (spec.md §4.11).
var ErrPurposeMismatch = fmt.Errorf("policy: purpose_mismatch")

// ForPurpose returns the matching policy entry, or ErrPurposeMismatch
// if none is defined for purpose.
func (d *Document) ForPurpose(purpose string) (*Purpose, error) {
	for i := range d.Purposes {
		if d.Purposes[i].Purpose == purpose {
			return &d.Purposes[i], nil
		}
	}
	return nil, ErrPurposeMismatch
}

// OriginAllowlistSet returns the origin allowlist for purpose as a set,
// suitable for internal/webauthn.Verify's allowedOrigins argument.
func (p *Purpose) OriginAllowlistSet() map[string]bool {
	set := make(map[string]bool, len(p.OriginAllowList))
	for _, o := range p.OriginAllowList {
		set[o] = true
	}
	return set
}
