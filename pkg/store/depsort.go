package store

import "github.com/flagkit/evalsdk/pkg/flagmodel"

// SortedItem is one (kind, key, descriptor) triple in dependency order.
type SortedItem struct {
	Kind flagmodel.Kind
	Key  string
	Desc flagmodel.ItemDescriptor
}

// SortByDependency orders a DataSet so that every flag appears after all
// flags it lists as prerequisites, and all segments precede all flags
// (segments have no dependencies of their own). This lets a downstream
// store that writes items one at a time always see prerequisites first.
//
// Malformed data must never deadlock initialization: a cycle is broken by
// dropping the back-edge that would complete it and continuing the visit.
func SortByDependency(data DataSet) []SortedItem {
	out := make([]SortedItem, 0)

	for key, desc := range data[flagmodel.KindSegments] {
		out = append(out, SortedItem{Kind: flagmodel.KindSegments, Key: key, Desc: desc})
	}

	flags := data[flagmodel.KindFlags]
	visited := map[string]bool{}  // fully emitted
	inStack := map[string]bool{}  // currently being visited, for cycle detection

	var visit func(key string)
	visit = func(key string) {
		if visited[key] {
			return
		}
		if inStack[key] {
			// Cycle: drop this back-edge and stop descending here.
			return
		}
		desc, ok := flags[key]
		if !ok {
			return
		}
		inStack[key] = true
		if f, isFlag := desc.Item.Flag(); isFlag {
			for _, p := range f.Prerequisites {
				visit(p.Key)
			}
		}
		inStack[key] = false
		visited[key] = true
		out = append(out, SortedItem{Kind: flagmodel.KindFlags, Key: key, Desc: desc})
	}

	for key := range flags {
		visit(key)
	}

	return out
}
