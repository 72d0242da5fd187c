// Package curie parses compact biomedical identifiers (CURIEs) such as
// "NCBIGene:1017" into the semantic type and identifier understood by the
// BioThings annotation services.
//
// Prefixes are resolved against a static table that is fixed at build time.
// Identifiers with an unregistered prefix parse successfully but carry an
// empty Type; callers decide whether that is an error.
package curie

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid indicates the identifier has no prefix separator.
var ErrInvalid = errors.New("invalid curie")

// Semantic types served by the annotation sources.
const (
	TypeGene    = "gene"
	TypeChem    = "chem"
	TypeDisease = "disease"
)

// Parsed is the result of parsing a CURIE.
type Parsed struct {
	// Type is the semantic type of the prefix, or "" when the prefix is not registered.
	Type string

	// ID is the identifier to send to the annotation source. It is the full
	// CURIE for unregistered prefixes and for rules that keep the prefix.
	ID string
}

// Resolved reports whether the prefix mapped to a semantic type.
func (p Parsed) Resolved() bool {
	return p.Type != ""
}

// Parse splits a CURIE on its first colon and resolves the prefix.
//
// Example:
//
//	p, _ := curie.Parse("NCBIGene:1017")
//	// p.Type == "gene", p.ID == "1017"
func Parse(id string) (Parsed, error) {
	prefix, local, ok := strings.Cut(id, ":")
	if !ok {
		return Parsed{}, fmt.Errorf("%w: %s", ErrInvalid, id)
	}

	rule, found := rules[prefix]
	if !found {
		return Parsed{ID: id}, nil
	}

	switch {
	case rule.KeepPrefix:
		return Parsed{Type: rule.Type, ID: id}, nil
	case rule.Convert != nil:
		return Parsed{Type: rule.Type, ID: rule.Convert(id)}, nil
	default:
		return Parsed{Type: rule.Type, ID: local}, nil
	}
}

// TypeOf returns only the semantic type of id.
func TypeOf(id string) (string, error) {
	p, err := Parse(id)
	if err != nil {
		return "", err
	}
	return p.Type, nil
}

// IDOf returns only the source identifier of id.
func IDOf(id string) (string, error) {
	p, err := Parse(id)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
