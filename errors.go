package artifactfetcher

import (
	"fmt"
	"strings"
)

// SessionInitError is returned when the store session could not be created.
// Creation is not retried internally; a later call may try again.
type SessionInitError struct {
	Err error
}

func (e *SessionInitError) Error() string {
	return fmt.Sprintf("initializing store session: %v", e.Err)
}

func (e *SessionInitError) Unwrap() error {
	return e.Err
}

// RetrievalError is returned when an artifact stream could not be opened or
// fully consumed.
type RetrievalError struct {
	Root RootID
	Path string
	Err  error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieving %s: %v", Address(e.Root, e.Path), e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// IncompleteVariantError is returned when one or more required artifacts of a
// variant were fetched without error but came back empty. Kind is the first
// missing artifact in RequiredKinds order; Missing lists all of them.
type IncompleteVariantError struct {
	Variant string
	Kind    Kind
	Missing []Kind
}

func (e *IncompleteVariantError) Error() string {
	if len(e.Missing) > 1 {
		names := make([]string, len(e.Missing))
		for i, k := range e.Missing {
			names[i] = k.String()
		}
		return fmt.Sprintf("could not download %s artifact for variant %q (missing: %s)",
			e.Kind, e.Variant, strings.Join(names, ", "))
	}
	return fmt.Sprintf("could not download %s artifact for variant %q", e.Kind, e.Variant)
}
