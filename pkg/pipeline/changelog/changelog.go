// Package changelog accumulates the integer counters each stage reports and
// merges them into the run's final, read-only change log.
package changelog

import (
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// Fragment is the stage-local part of the change log.
type Fragment struct {
	Stage  string
	Counts map[string]int
}

// NewFragment creates an empty fragment for stage.
func NewFragment(stage string) Fragment {
	return Fragment{Stage: stage, Counts: make(map[string]int)}
}

// Add increments key by n.
func (f Fragment) Add(key string, n int) {
	f.Counts[key] += n
}

// Set overwrites key.
func (f Fragment) Set(key string, n int) {
	f.Counts[key] = n
}

// Key joins a metric and a column name: "missing" + "age" -> "missing.age".
func Key(metric, column string) string {
	return metric + "." + column
}

// Log is a finalized change log. The zero value is empty.
type Log struct {
	counts map[string]int
}

// Merge folds fragments in the given order; on key collision the later fragment wins.
func Merge(fragments ...Fragment) Log {
	out := make(map[string]int)
	for _, f := range fragments {
		for k, v := range f.Counts {
			out[k] = v
		}
	}
	return Log{counts: out}
}

// Get returns the counter for key.
func (l Log) Get(key string) (int, bool) {
	v, ok := l.counts[key]
	return v, ok
}

// Len returns the number of counters.
func (l Log) Len() int { return len(l.counts) }

// Keys returns the counter names sorted.
func (l Log) Keys() []string {
	keys := make([]string, 0, len(l.counts))
	for k := range l.counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a copy of the counters.
func (l Log) Map() map[string]int {
	out := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		out[k] = v
	}
	return out
}

func (l Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Map())
}

func (l Log) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range l.Keys() {
		var val yaml.Node
		if err := val.Encode(l.counts[k]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: k}, &val)
	}
	return node, nil
}
