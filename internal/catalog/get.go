package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dyluth/glint/internal/signature"
)

// MinPrefixLength is the shortest key prefix Resolve will search for.
const MinPrefixLength = 6

// NotFoundError means no signature matched the key or prefix.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no signature found matching '%s'", e.Key)
}

// AmbiguousError means a prefix matched more than one signature.
type AmbiguousError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous prefix '%s' matches %d signatures", e.Prefix, len(e.Matches))
}

// Describe lists up to ten matches for display.
func (e *AmbiguousError) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ambiguous prefix '%s' matches %d signatures:\n", e.Prefix, len(e.Matches))
	shown := e.Matches
	if len(shown) > 10 {
		shown = shown[:10]
	}
	for _, m := range shown {
		fmt.Fprintf(&b, "  %s\n", m)
	}
	if len(e.Matches) > 10 {
		fmt.Fprintf(&b, "  ...and %d more\n", len(e.Matches)-10)
	}
	b.WriteString("\nUse a longer prefix to identify the signature.")
	return b.String()
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsAmbiguous reports whether err is an AmbiguousError.
func IsAmbiguous(err error) bool {
	var amb *AmbiguousError
	return errors.As(err, &amb)
}

// Resolve expands key to a stored signature key. An exact match wins;
// otherwise key is treated as a prefix of at least MinPrefixLength characters.
func Resolve(ctx context.Context, src Source, key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("signature key cannot be empty")
	}

	_, err := src.Get(ctx, key)
	if err == nil {
		return key, nil
	}
	if !signature.IsNotFound(err) {
		return "", fmt.Errorf("failed to read signature: %w", err)
	}

	if len(key) < MinPrefixLength {
		return "", fmt.Errorf("key prefix must be at least %d characters (got %d)", MinPrefixLength, len(key))
	}

	keys, err := src.Keys(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search signatures: %w", err)
	}
	var matches []string
	for _, k := range keys {
		if strings.HasPrefix(k, key) {
			matches = append(matches, k)
		}
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{Key: key}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{Prefix: key, Matches: matches}
	}
}

// Get resolves key and writes the signature as indented JSON.
func Get(ctx context.Context, src Source, key string, w io.Writer) error {
	full, err := Resolve(ctx, src, key)
	if err != nil {
		return err
	}
	sig, err := src.Get(ctx, full)
	if signature.IsNotFound(err) {
		return &NotFoundError{Key: full}
	}
	if err != nil {
		return fmt.Errorf("failed to fetch signature: %w", err)
	}
	return FormatSingleJSON(w, sig)
}
