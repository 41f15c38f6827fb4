package storage

import (
	"sort"

	"kabox/internal/domain"
)

// DefaultProvider receives files no capability set claims.
const DefaultProvider = domain.ProviderS3

// Select picks the storage backend for a file. It is a pure function
// over the capability table: filter by size ceiling and category
// membership, then take the lowest priority value. Ties keep the input
// order. When nothing qualifies the default provider takes the file.
func Select(caps []Capabilities, mimeType string, size int64) domain.Provider {
	category := domain.CategoryOf(mimeType)

	candidates := make([]Capabilities, 0, len(caps))
	for _, c := range caps {
		if c.Supports(category, size) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return DefaultProvider
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	return candidates[0].Provider
}
