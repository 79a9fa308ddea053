// Package delta implements DroneDB's delta engine (spec.md §4.3, component
// C7): diffing two stamps into adds/removes/metaAdds/metaRemoves, and
// applying that diff against a destination database under a merge strategy.
package delta

import (
	"sort"

	"github.com/dronedb/ddb-core/internal/index"
)

// Strategy is the three-way merge policy apply_delta takes when a
// destination entry conflicts with an incoming add or remove (spec.md
// §4.3.2).
type Strategy int

// Merge strategies spec.md §4.3.2 enumerates.
const (
	DontMerge Strategy = iota
	KeepOurs
	KeepTheirs
)

// ConflictKind classifies an unresolved merge conflict (spec.md §4.3.2).
type ConflictKind int

// Conflict kinds spec.md §4.3.2 produces.
const (
	BothModified ConflictKind = iota
	RemoteDeleteLocalModified
)

// Conflict is one unresolved merge outcome; its presence means the
// destination was left untouched for that path (spec.md §4.3.2 "Non-empty ⇒
// state unchanged on disk").
type Conflict struct {
	Path string
	Kind ConflictKind
}

// Delta is the output of Diff: the path/hash adds and removes, plus the
// metadata ids to add and remove, per spec.md §4.3.1.
type Delta struct {
	Adds        []index.StampEntry
	Removes     []index.StampEntry
	MetaAdds    []string
	MetaRemoves []string
}

// Diff computes the delta that would bring a destination at stamp D up to
// a source at stamp S (spec.md §4.3.1).
func Diff(source, dest *index.Stamp) *Delta {
	destByPath := make(map[string]string, len(dest.Entries))
	for _, e := range dest.Entries {
		destByPath[e.Path] = e.Hash
	}

	sourceByPath := make(map[string]string, len(source.Entries))
	for _, e := range source.Entries {
		sourceByPath[e.Path] = e.Hash
	}

	var adds []index.StampEntry

	for _, e := range source.Entries {
		if destHash, ok := destByPath[e.Path]; !ok || destHash != e.Hash {
			adds = append(adds, e)
		}
	}

	var removes []index.StampEntry

	for _, e := range dest.Entries {
		// "¬∃ (path, _) ∈ S.entries with same is-directory flag": a path is
		// only a remove if the source has no entry at that path at all, or
		// has one whose directory-ness (hash == "") differs.
		sourceHash, ok := sourceByPath[e.Path]
		if ok && (sourceHash == "") == (e.Hash == "") {
			continue
		}

		removes = append(removes, e)
	}

	// Deep-first deletion safety (spec.md §4.3.1 "Removes are sorted by path
	// descending").
	sort.Slice(removes, func(i, j int) bool { return removes[i].Path > removes[j].Path })

	metaAdds := setDifference(source.Meta, dest.Meta)
	metaRemoves := setDifference(dest.Meta, source.Meta)

	return &Delta{
		Adds:        adds,
		Removes:     removes,
		MetaAdds:    metaAdds,
		MetaRemoves: metaRemoves,
	}
}

// setDifference returns the elements of a not present in b (both assumed
// sorted, as spec.md §4.1.8 guarantees for stamp meta id lists).
func setDifference(a, b []string) []string {
	inB := make(map[string]bool, len(b))
	for _, id := range b {
		inB[id] = true
	}

	var out []string

	for _, id := range a {
		if !inB[id] {
			out = append(out, id)
		}
	}

	return out
}
