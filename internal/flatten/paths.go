package flatten

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapcheck/internal/relation"
)

// FlattenPaths materializes only the given dotted paths: it explodes just the
// list columns those paths traverse (shallowest first), flattens, and
// projects the result down to the resolvable paths. Paths that cannot be
// resolved against the schema are returned as warnings, never as errors.
func FlattenPaths(ctx context.Context, rel *relation.Relation, paths []string, opts Options) (*relation.Relation, []string, error) {
	opts = opts.withDefaults()

	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("at least one path is required")
	}

	// Dedupe, preserving first-seen order.
	seen := make(map[string]struct{}, len(paths))
	deduped := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		deduped = append(deduped, p)

		if strings.Count(p, opts.Separator)+1 > opts.MaxDepth {
			return nil, nil, &StructuralLimitError{Op: "path resolution", MaxDepth: opts.MaxDepth}
		}
	}

	arrays := collectRequiredArrays(rel.Schema(), deduped, opts.Separator)

	// Shallow arrays first, so a parent explosion materializes the column a
	// deeper path needs.
	sort.SliceStable(arrays, func(i, j int) bool {
		return strings.Count(arrays[i], opts.Separator) < strings.Count(arrays[j], opts.Separator)
	})

	rel, err := Flatten(ctx, rel, opts)
	if err != nil {
		return nil, nil, err
	}

	for _, arrPath := range arrays {
		col, ok := rel.Schema().Column(arrPath)
		if !ok || !col.Type.IsList() {
			// A prior explosion may have already consumed this path.
			continue
		}
		rel, err = explodeColumn(ctx, rel, col, opts)
		if err != nil {
			return nil, nil, err
		}
	}

	schema := rel.Schema()
	resolved := make([]string, 0, len(deduped))
	var warnings []string
	for _, p := range deduped {
		if schema.Has(p) {
			resolved = append(resolved, p)
		} else {
			warnings = append(warnings, fmt.Sprintf("path not found (skipped): %s", p))
		}
	}

	if len(resolved) == 0 {
		return rel, warnings, nil
	}

	projected, err := rel.Columns(ctx, resolved)
	if err != nil {
		return nil, nil, err
	}
	return projected, warnings, nil
}

// collectRequiredArrays walks each path through the nested schema and
// records, in encounter order, every list column the path traverses.
func collectRequiredArrays(schema relation.Schema, paths []string, sep string) []string {
	var arrays []string
	seen := make(map[string]struct{})

	record := func(path string) {
		if _, ok := seen[path]; !ok {
			seen[path] = struct{}{}
			arrays = append(arrays, path)
		}
	}

	for _, path := range paths {
		// Pre-flattened inputs may carry the full path as a literal column name.
		if col, ok := schema.Column(path); ok {
			if col.Type.IsList() {
				record(path)
			}
			continue
		}

		parts := strings.Split(path, sep)

		// Match the longest column-name prefix, since flattened columns embed
		// the separator in their names.
		var cur relation.Type
		var walked []string
		matched := false
		for n := len(parts); n >= 1; n-- {
			prefix := strings.Join(parts[:n], sep)
			if col, ok := schema.Column(prefix); ok {
				cur = col.Type
				walked = parts[:n]
				parts = parts[n:]
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		if cur.IsList() {
			record(strings.Join(walked, sep))
			cur = *cur.Elem
		}

		for _, part := range parts {
			if !cur.IsStruct() {
				break
			}
			var next *relation.Type
			for i := range cur.Fields {
				if cur.Fields[i].Name == part {
					next = &cur.Fields[i].Type
					break
				}
			}
			if next == nil {
				break
			}
			walked = append(walked, part)
			cur = *next
			if cur.IsList() {
				record(strings.Join(walked, sep))
				cur = *cur.Elem
			}
		}
	}

	return arrays
}
