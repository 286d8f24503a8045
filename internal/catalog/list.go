// Package catalog inspects the signature cache: listing, filtering and
// fetching entries by full key or short prefix.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/dyluth/glint/internal/signature"
	"github.com/dyluth/glint/pkg/blackboard"
)

// OutputFormat selects how List renders signatures.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSONL   OutputFormat = "jsonl"
)

// Source is a signature store that can enumerate its keys.
// All built-in stores satisfy it.
type Source interface {
	signature.Store
	signature.Lister
}

// Collect loads every signature matching criteria, oldest update first.
// Entries that fail to load are logged and skipped.
func Collect(ctx context.Context, src Source, criteria *Criteria) ([]*blackboard.Signature, error) {
	keys, err := src.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list signatures: %w", err)
	}

	var sigs []*blackboard.Signature
	for _, key := range keys {
		sig, err := src.Get(ctx, key)
		if err != nil {
			if signature.IsNotFound(err) {
				continue
			}
			log.Printf("[Catalog] Skipping unreadable signature: key=%s error=%v", key, err)
			continue
		}
		if criteria != nil && !criteria.Matches(sig) {
			continue
		}
		sigs = append(sigs, sig)
	}

	sort.SliceStable(sigs, func(i, j int) bool {
		if sigs[i].UpdatedAtMs != sigs[j].UpdatedAtMs {
			return sigs[i].UpdatedAtMs < sigs[j].UpdatedAtMs
		}
		return sigs[i].Key < sigs[j].Key
	})
	return sigs, nil
}

// List writes the matching signatures to w in the requested format.
// sourceName labels the table header, e.g. the backend in use.
func List(ctx context.Context, src Source, sourceName string, format OutputFormat, criteria *Criteria, w io.Writer) error {
	switch format {
	case OutputFormatDefault, OutputFormatJSONL:
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	sigs, err := Collect(ctx, src, criteria)
	if err != nil {
		return err
	}

	if format == OutputFormatJSONL {
		if err := FormatJSONL(w, sigs); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
		return nil
	}
	FormatTable(w, sigs, sourceName)
	return nil
}
