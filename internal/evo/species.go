package evo

import (
	"math/rand"
	"sort"

	"neattrade/internal/agent"
	"neattrade/internal/genome"
	"neattrade/internal/model"
)

// Member is one scored genome of the generation under selection.
type Member struct {
	Genome      *genome.Genome
	Fitness     float64
	Stats       agent.TradingStats
	DeathReason string

	shared float64
}

// Species groups compatible genomes. Its representative is the top genome
// at the last sort.
type Species struct {
	ID             int
	members        []*Member
	representative *genome.Genome
	champion       *genome.Genome
	bestFitness    float64
	averageFitness float64
	staleness      int
	scored         bool
}

func newSpecies(id int, first *Member) *Species {
	return &Species{
		ID:             id,
		members:        []*Member{first},
		representative: first.Genome.Clone(),
		champion:       first.Genome.Clone(),
		bestFitness:    first.Fitness,
	}
}

func (s *Species) Size() int                      { return len(s.members) }
func (s *Species) Staleness() int                 { return s.staleness }
func (s *Species) BestFitness() float64           { return s.bestFitness }
func (s *Species) AverageFitness() float64        { return s.averageFitness }
func (s *Species) Representative() *genome.Genome { return s.representative }

func (s *Species) compatible(cfg Config, g *genome.Genome) bool {
	return cfg.Distance(g, s.representative) < cfg.CompatibilityThreshold
}

// rank orders members by fitness and updates staleness. A new best resets
// staleness and becomes the representative.
func (s *Species) rank() {
	sort.SliceStable(s.members, func(i, j int) bool {
		return s.members[i].Fitness > s.members[j].Fitness
	})
	if len(s.members) == 0 {
		return
	}
	top := s.members[0]
	if !s.scored || top.Fitness > s.bestFitness {
		s.scored = true
		s.staleness = 0
		s.bestFitness = top.Fitness
		s.representative = top.Genome.Clone()
		s.champion = top.Genome.Clone()
		return
	}
	s.staleness++
}

// cull drops the bottom half of a ranked species.
func (s *Species) cull() {
	if len(s.members) <= 2 {
		return
	}
	s.members = s.members[:len(s.members)/2]
}

// share divides fitness by species size and records the average.
func (s *Species) share() {
	if len(s.members) == 0 {
		s.averageFitness = 0
		return
	}
	size := float64(len(s.members))
	sum := 0.0
	for _, m := range s.members {
		m.shared = m.Fitness / size
		sum += m.shared
	}
	s.averageFitness = sum / size
}

func (s *Species) metrics() model.SpeciesMetrics {
	out := model.SpeciesMetrics{
		ID:        s.ID,
		Size:      len(s.members),
		Staleness: s.staleness,
	}
	if len(s.members) == 0 {
		return out
	}
	sum := 0.0
	for _, m := range s.members {
		sum += m.Fitness
	}
	out.MeanFitness = sum / float64(len(s.members))
	out.BestFitness = s.members[0].Fitness
	return out
}

// reproduce returns one mutated child.
func (s *Species) reproduce(rng *rand.Rand, cfg Config, history *genome.InnovationHistory) *genome.Genome {
	var child *genome.Genome
	if rng.Float64() < cfg.CloneRate {
		child = s.selectMember(rng).Genome.Clone()
	} else {
		a := s.selectMember(rng)
		b := s.selectMember(rng)
		if a.Fitness < b.Fitness {
			a, b = b, a
		}
		child = a.Genome.Crossover(rng, b.Genome)
	}
	child.ID = ""
	child.MutateWith(rng, history, cfg.Mutation)
	return child
}

// selectMember is roulette selection over fitness clamped at zero, falling
// back to a uniform pick when no member has positive fitness.
func (s *Species) selectMember(rng *rand.Rand) *Member {
	total := 0.0
	for _, m := range s.members {
		if m.Fitness > 0 {
			total += m.Fitness
		}
	}
	if total <= 0 {
		return s.members[rng.Intn(len(s.members))]
	}
	pick := rng.Float64() * total
	acc := 0.0
	for _, m := range s.members {
		if m.Fitness <= 0 {
			continue
		}
		acc += m.Fitness
		if pick < acc {
			return m
		}
	}
	return s.members[0]
}
