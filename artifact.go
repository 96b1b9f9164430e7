// Package artifactfetcher retrieves circuit artifacts (proving keys,
// verification keys and witness programs) from a content-addressed store.
//
// Artifacts live under a single well-known root identifier and are addressed
// by a relative path built from the artifact kind and a variant string such
// as "2x16".
package artifactfetcher

import (
	"fmt"
	"strings"
)

// DefaultRootID is the root content identifier that all published artifact
// variants are organised under.
const DefaultRootID RootID = "QmeBrG7pii1qTqsn7rusvDiqXopHPjCT9gR4PsmW7wXqZq"

// RootID names a content-addressed collection root. It is compared by value
// and never interpreted by this package.
type RootID string

// String returns the root identifier as a string.
func (r RootID) String() string {
	return string(r)
}

// Kind identifies a category of artifact. Its value doubles as the path
// prefix used when resolving artifact paths.
type Kind string

const (
	ProvingKey      Kind = "zkey"
	WitnessProgram  Kind = "wasm"
	VerificationKey Kind = "vkey"
	AuxiliaryData   Kind = "dat"
)

// Kinds returns every known artifact kind.
func Kinds() []Kind {
	return []Kind{VerificationKey, ProvingKey, WitnessProgram, AuxiliaryData}
}

// RequiredKinds returns the kinds a variant must provide, in the order
// failures are reported.
func RequiredKinds() []Kind {
	return []Kind{VerificationKey, ProvingKey, WitnessProgram}
}

// Prefix returns the path prefix for the kind.
func (k Kind) Prefix() string {
	return string(k)
}

// String implements fmt.Stringer.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case ProvingKey, WitnessProgram, VerificationKey, AuxiliaryData:
		return true
	}
	return false
}

// ParseKind parses a kind name. Matching is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
	return k, nil
}

// ResolvePath returns the path of an artifact relative to the root.
// The variant is used verbatim, including when empty.
func ResolvePath(kind Kind, variant string) string {
	return kind.Prefix() + variant
}

// Address returns the combined "root/path" form of an artifact address,
// used for display only.
func Address(root RootID, path string) string {
	return string(root) + "/" + path
}

// VariantString formats the variant identifier for a circuit shape, e.g.
// VariantString(2, 16) returns "2x16".
func VariantString(nullifiers, commitments int) string {
	return fmt.Sprintf("%dx%d", nullifiers, commitments)
}
