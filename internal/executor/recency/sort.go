package recency

import (
	"sort"

	"github.com/kandev/kanrun/internal/executor/models"
	"github.com/kandev/kanrun/internal/executor/profiles"
)

// Alignment is where the picker anchors its most recent entries.
type Alignment int

const (
	// AlignTop lists the most recent entry first.
	AlignTop Alignment = iota
	// AlignBottom lists the most recent entry last, next to an input box
	// below the picker. It is AlignTop reversed.
	AlignBottom
)

// SortModels orders catalog models for display. With AlignTop recent models
// come first, most recent first, followed by the rest in catalog order.
func SortModels(catalog []models.ModelInfo, recent profiles.RecentModels, align Alignment) []models.ModelInfo {
	type ranked struct {
		model models.ModelInfo
		rank  int
		pos   int
	}
	items := make([]ranked, len(catalog))
	for i, m := range catalog {
		items[i] = ranked{model: m, rank: recent.Index(m.Key()), pos: i}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return topBefore(items[i].rank, items[j].rank, items[i].pos, items[j].pos)
	})

	out := make([]models.ModelInfo, len(items))
	for i, it := range items {
		out[i] = it.model
	}
	if align == AlignBottom {
		reverse(out)
	}
	return out
}

// SortProviders orders providers by the most recent use of any of their
// models. Providers without recent models follow in catalog order (AlignTop).
func SortProviders(providers []models.ModelProvider, catalog []models.ModelInfo, recent profiles.RecentModels, align Alignment) []models.ModelProvider {
	best := make(map[string]int, len(providers))
	for _, m := range catalog {
		if m.ProviderID == nil {
			continue
		}
		idx := recent.Index(m.Key())
		if cur, ok := best[*m.ProviderID]; !ok || idx > cur {
			best[*m.ProviderID] = idx
		}
	}

	type ranked struct {
		provider models.ModelProvider
		rank     int
		pos      int
	}
	items := make([]ranked, len(providers))
	for i, p := range providers {
		rank, ok := best[p.ID]
		if !ok {
			rank = -1
		}
		items[i] = ranked{provider: p, rank: rank, pos: i}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return topBefore(items[i].rank, items[j].rank, items[i].pos, items[j].pos)
	})

	out := make([]models.ModelProvider, len(items))
	for i, it := range items {
		out[i] = it.provider
	}
	if align == AlignBottom {
		reverse(out)
	}
	return out
}

// topBefore orders by recency index descending (-1 means never used), then
// by catalog position.
func topBefore(rankA, rankB, posA, posB int) bool {
	if rankA != rankB {
		return rankA > rankB
	}
	return posA < posB
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
