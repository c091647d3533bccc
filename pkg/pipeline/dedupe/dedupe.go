// Package dedupe removes redundant records that share an identity key.
package dedupe

import (
	"fmt"
	"strings"

	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/changelog"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/records-cleaning-pipeline/pkg/pipeline/table"
)

const StageName = "dedupe"

// Policy picks the survivor of a duplicate group.
type Policy string

const (
	KeepFirst        Policy = "keep-first"
	KeepLast         Policy = "keep-last"
	KeepMostComplete Policy = "keep-most-complete"
)

// ParsePolicy maps user input to a Policy; empty means keep-first.
func ParsePolicy(raw string) (Policy, bool) {
	switch strings.ReplaceAll(strings.TrimSpace(strings.ToLower(raw)), "_", "-") {
	case "", "keep-first", "first":
		return KeepFirst, true
	case "keep-last", "last":
		return KeepLast, true
	case "keep-most-complete", "most-complete":
		return KeepMostComplete, true
	default:
		return "", false
	}
}

// Options configure the Deduplicator. Rows with a missing key value never
// match anything unless MatchMissingKeys is set, in which case missing equals
// missing.
type Options struct {
	Keys             []string
	Policy           Policy
	MatchMissingKeys bool
}

type Deduplicator struct {
	opts Options
}

func New(opts Options) (*Deduplicator, error) {
	if len(opts.Keys) == 0 {
		return nil, core.Configf("dedupe.keys", "at least one key column is required")
	}
	seen := make(map[string]struct{}, len(opts.Keys))
	for i, k := range opts.Keys {
		if k == "" {
			return nil, core.Configf(fmt.Sprintf("dedupe.keys[%d]", i), "empty column name")
		}
		if _, dup := seen[k]; dup {
			return nil, core.Configf(fmt.Sprintf("dedupe.keys[%d]", i), "column %q listed twice", k)
		}
		seen[k] = struct{}{}
	}
	switch opts.Policy {
	case "":
		opts.Policy = KeepFirst
	case KeepFirst, KeepLast, KeepMostComplete:
	default:
		return nil, core.Configf("dedupe.policy", "unknown policy %q", opts.Policy)
	}
	opts.Keys = append([]string(nil), opts.Keys...)
	return &Deduplicator{opts: opts}, nil
}

func (d *Deduplicator) Name() string { return StageName }

// Apply returns a copy of in holding one row per key. Survivors keep their
// input order.
func (d *Deduplicator) Apply(in *table.Table) (*table.Table, changelog.Fragment, error) {
	t := in.Clone()
	frag := changelog.NewFragment(StageName)

	idx := make([]int, len(d.opts.Keys))
	for i, k := range d.opts.Keys {
		j, ok := t.Index(k)
		if !ok {
			return nil, frag, fmt.Errorf("key column %q not in table", k)
		}
		idx[i] = j
	}

	survivor := make(map[string]int)
	var order []string
	size := make(map[string]int)
	for i := 0; i < t.Len(); i++ {
		key, ok := d.key(t.Row(i), idx)
		if !ok {
			continue
		}
		cur, seen := survivor[key]
		size[key]++
		if !seen {
			survivor[key] = i
			order = append(order, key)
			continue
		}
		if d.prefer(t, i, cur) {
			survivor[key] = i
		}
	}

	groups := 0
	drop := make(map[int]struct{})
	for i := 0; i < t.Len(); i++ {
		key, ok := d.key(t.Row(i), idx)
		if !ok {
			continue
		}
		if survivor[key] != i {
			drop[i] = struct{}{}
		}
	}
	for _, key := range order {
		if size[key] > 1 {
			groups++
		}
	}

	removed := t.Filter(func(i int, _ []table.Value) bool {
		_, gone := drop[i]
		return !gone
	})
	frag.Set("duplicates_removed", removed)
	frag.Set("duplicate_groups", groups)
	return t, frag, nil
}

// prefer reports whether row i should replace the current survivor cur.
func (d *Deduplicator) prefer(t *table.Table, i, cur int) bool {
	switch d.opts.Policy {
	case KeepLast:
		return true
	case KeepMostComplete:
		return t.MissingCount(i) < t.MissingCount(cur)
	default:
		return false
	}
}

// key encodes the key cells with their kinds so that the number 1 and the
// text "1" never collide. ok is false for a row that must not be matched.
func (d *Deduplicator) key(row []table.Value, idx []int) (string, bool) {
	var b strings.Builder
	for _, j := range idx {
		v := row[j]
		if v.IsMissing() && !d.opts.MatchMissingKeys {
			return "", false
		}
		s := v.String()
		fmt.Fprintf(&b, "%d:%d:%s|", int(v.Kind()), len(s), s)
	}
	return b.String(), true
}
