package caresync

import "sort"

// Record pairs a document with its id inside a local collection.
type Record struct {
	ID   string
	Data Document
}

// LessFunc is a total, deterministic ordering over records. Comparators must
// break ties (typically by ID) so re-sorting after a merge is stable across
// clients.
type LessFunc func(a, b Record) bool

// ApplyEnvelopes merges a batch of envelopes into a collection and re-sorts
// by less. Envelopes are applied in delivery order:
//
//   - added: append only if the id is not present
//   - modified: replace in place if present, else append (tolerates a missed
//     added during snapshot desync)
//   - removed: delete if present, no-op otherwise
//
// The returned slice is a new allocation; the input is not mutated. Applying
// the same batch twice yields the same collection as applying it once.
func ApplyEnvelopes(current []Record, batch []UpdateEnvelope, less LessFunc) []Record {
	merged := make([]Record, len(current))
	copy(merged, current)

	index := make(map[string]int, len(merged))
	for i, rec := range merged {
		index[rec.ID] = i
	}

	for _, env := range batch {
		switch env.Type {
		case UpdateAdded:
			if _, ok := index[env.ID]; ok {
				continue
			}
			index[env.ID] = len(merged)
			merged = append(merged, Record{ID: env.ID, Data: env.Data})

		case UpdateModified:
			if i, ok := index[env.ID]; ok {
				merged[i] = Record{ID: env.ID, Data: env.Data}
			} else {
				index[env.ID] = len(merged)
				merged = append(merged, Record{ID: env.ID, Data: env.Data})
			}

		case UpdateRemoved:
			i, ok := index[env.ID]
			if !ok {
				continue
			}
			merged = append(merged[:i], merged[i+1:]...)
			delete(index, env.ID)
			for j := i; j < len(merged); j++ {
				index[merged[j].ID] = j
			}
		}
	}

	if less != nil {
		sort.SliceStable(merged, func(i, j int) bool {
			return less(merged[i], merged[j])
		})
	}

	return merged
}

// ApplyEnvelope merges a single envelope. Convenience for single-document
// listeners feeding a one-element collection.
func ApplyEnvelope(current []Record, env UpdateEnvelope, less LessFunc) []Record {
	return ApplyEnvelopes(current, []UpdateEnvelope{env}, less)
}
