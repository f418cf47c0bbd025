package genome

import (
	"sort"
	"sync"

	"neattrade/internal/model"
)

// DefaultFirstInnovation keeps innovation numbers visually apart from node ids.
const DefaultFirstInnovation = 1000

type innovationKey struct {
	from int
	to   int
}

type innovationEntry struct {
	innovation  int
	innovations []int
}

// InnovationHistory maps structural mutations to innovation numbers. A
// mutation reuses an existing number only when the endpoints match and the
// mutating genome carries exactly the same innovation set as the genome that
// first produced it. A miss always creates a new entry, so lookups cannot fail.
type InnovationHistory struct {
	mu      sync.Mutex
	next    int
	entries map[innovationKey][]innovationEntry
	count   int
}

func NewInnovationHistory(next int) *InnovationHistory {
	if next <= 0 {
		next = DefaultFirstInnovation
	}
	return &InnovationHistory{
		next:    next,
		entries: make(map[innovationKey][]innovationEntry),
	}
}

// Innovation returns the innovation number for connecting from -> to on g.
func (h *InnovationHistory) Innovation(g *Genome, from, to int) int {
	current := g.sortedInnovations()

	h.mu.Lock()
	defer h.mu.Unlock()

	key := innovationKey{from: from, to: to}
	for _, entry := range h.entries[key] {
		if equalInts(entry.innovations, current) {
			return entry.innovation
		}
	}

	number := h.next
	h.next++
	h.entries[key] = append(h.entries[key], innovationEntry{
		innovation:  number,
		innovations: current,
	})
	h.count++
	return number
}

// Next reports the number the next new mutation will receive.
func (h *InnovationHistory) Next() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.next
}

// Len reports how many distinct mutations have been recorded.
func (h *InnovationHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Records exports the ledger ordered by innovation number.
func (h *InnovationHistory) Records() []model.InnovationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.InnovationRecord, 0, h.count)
	for key, entries := range h.entries {
		for _, entry := range entries {
			out = append(out, model.InnovationRecord{
				From:        key.from,
				To:          key.to,
				Innovation:  entry.innovation,
				Innovations: append([]int(nil), entry.innovations...),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Innovation < out[j].Innovation })
	return out
}

// Load adds persisted ledger entries and advances the counter past them.
// Entries already known for the same connection and innovation set are kept.
func (h *InnovationHistory) Load(records []model.InnovationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, rec := range records {
		key := innovationKey{from: rec.From, to: rec.To}
		set := append([]int(nil), rec.Innovations...)
		sort.Ints(set)
		known := false
		for _, entry := range h.entries[key] {
			if equalInts(entry.innovations, set) {
				known = true
				break
			}
		}
		if !known {
			h.entries[key] = append(h.entries[key], innovationEntry{innovation: rec.Innovation, innovations: set})
			h.count++
		}
		if rec.Innovation >= h.next {
			h.next = rec.Innovation + 1
		}
	}
}

// Observe advances the counter past numbers loaded from persisted genomes.
func (h *InnovationHistory) Observe(g *Genome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, gene := range g.genes {
		if gene.Innovation >= h.next {
			h.next = gene.Innovation + 1
		}
	}
}

func (g *Genome) sortedInnovations() []int {
	out := make([]int, len(g.genes))
	for i, gene := range g.genes {
		out[i] = gene.Innovation
	}
	sort.Ints(out)
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
