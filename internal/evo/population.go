package evo

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"neattrade/internal/agent"
	"neattrade/internal/genome"
	"neattrade/internal/indicators"
	"neattrade/internal/model"
)

// Dataset is a fully materialized replay window plus the indicator matrix
// computed over it when the agents look at indicators.
type Dataset struct {
	Candles []model.Candle
	Matrix  *indicators.Matrix
}

func NewDataset(candles []model.Candle, cfg agent.Config) (Dataset, error) {
	if len(candles) < 2 {
		return Dataset{}, ErrNoCandles
	}
	data := Dataset{Candles: candles}
	if cfg.InputMode == agent.InputIndicators {
		m, err := indicators.Compute(candles, cfg.Indicators, cfg.HistoryWindow)
		if err != nil {
			return Dataset{}, fmt.Errorf("compute indicators: %w", err)
		}
		data.Matrix = m
	}
	return data, nil
}

// Population owns the genomes of one training run across generations.
type Population struct {
	cfg      Config
	agentCfg agent.Config
	rng      *rand.Rand
	history  *genome.InnovationHistory

	genomes       []*genome.Genome
	species       []*Species
	generation    int
	nextSpeciesID int
	survivors     map[int]struct{}

	best        *Member
	bestHistory []float64
}

// NewPopulation seeds cfg.PopulationSize fully connected genomes shaped for
// agentCfg.
func NewPopulation(cfg Config, agentCfg agent.Config) (*Population, error) {
	p, err := newPopulation(cfg, agentCfg, genome.DefaultFirstInnovation)
	if err != nil {
		return nil, err
	}
	for i := 0; i < cfg.PopulationSize; i++ {
		g, err := genome.NewFullyConnected(agentCfg.Inputs(), agentCfg.Outputs(), p.rng, p.history)
		if err != nil {
			return nil, err
		}
		if err := g.SetActivation(cfg.Activation); err != nil {
			return nil, err
		}
		p.genomes = append(p.genomes, g)
	}
	return p, nil
}

// Restore rebuilds a population from a snapshot, including its innovation
// ledger. Species are re-formed at the next selection.
func Restore(cfg Config, agentCfg agent.Config, rec model.PopulationRecord, genomes []*genome.Genome) (*Population, error) {
	if len(genomes) != cfg.PopulationSize {
		return nil, fmt.Errorf("%w: snapshot has %d genomes, want %d", ErrInvalidConfig, len(genomes), cfg.PopulationSize)
	}
	p, err := newPopulation(cfg, agentCfg, rec.NextInnovation)
	if err != nil {
		return nil, err
	}
	p.history.Load(rec.Innovations)
	for i, g := range genomes {
		if g.Inputs() != agentCfg.Inputs() || g.Outputs() != agentCfg.Outputs() {
			return nil, fmt.Errorf("%w: genome %d", agent.ErrShapeMismatch, i)
		}
		p.history.Observe(g)
	}
	p.genomes = genomes
	if rec.Generation > 0 {
		p.generation = rec.Generation
	}
	// Continue from a different but reproducible stream.
	p.rng = rand.New(rand.NewSource(cfg.Seed + int64(p.generation)))
	return p, nil
}

func newPopulation(cfg Config, agentCfg agent.Config, nextInnovation int) (*Population, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := agentCfg.Validate(); err != nil {
		return nil, err
	}
	return &Population{
		cfg:        cfg,
		agentCfg:   agentCfg,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		history:    genome.NewInnovationHistory(nextInnovation),
		genomes:    make([]*genome.Genome, 0, cfg.PopulationSize),
		generation: 1,
		survivors:  map[int]struct{}{},
	}, nil
}

// Generation is the number of the generation currently held, starting at 1.
func (p *Population) Generation() int { return p.generation }

// Size is constant across generations.
func (p *Population) Size() int { return len(p.genomes) }

func (p *Population) Genomes() []*genome.Genome {
	return append([]*genome.Genome(nil), p.genomes...)
}

func (p *Population) Species() []*Species {
	return append([]*Species(nil), p.species...)
}

func (p *Population) History() *genome.InnovationHistory { return p.history }

// Best is the fittest member seen across all generations.
func (p *Population) Best() (Member, bool) {
	if p.best == nil {
		return Member{}, false
	}
	return *p.best, true
}

func (p *Population) BestHistory() []float64 {
	return append([]float64(nil), p.bestHistory...)
}

// GenerationResult is everything one generation produced.
type GenerationResult struct {
	Diagnostics model.GenerationDiagnostics
	Species     model.SpeciesGeneration
	// Best is the fittest member of this generation.
	Best    Member
	Members []Member
}

// RunGeneration replays every genome over data, then runs natural selection.
func (p *Population) RunGeneration(ctx context.Context, data Dataset) (GenerationResult, error) {
	agents, ticks, err := replay(ctx, p.cfg, p.agentCfg, p.genomes, data)
	if err != nil {
		return GenerationResult{}, err
	}

	members := make([]Member, len(agents))
	lifespan, trades := 0.0, 0.0
	for i, a := range agents {
		stats := a.Stats()
		members[i] = Member{
			Genome:      a.Genome(),
			Fitness:     a.Fitness(),
			Stats:       stats,
			DeathReason: a.DeathReason(),
		}
		lifespan += float64(stats.Lifespan)
		trades += float64(stats.TotalTrades)
	}

	best := 0
	for i := range members {
		if members[i].Fitness > members[best].Fitness {
			best = i
		}
	}
	result := GenerationResult{
		Best:    members[best],
		Members: members,
	}
	result.Best.Genome = members[best].Genome.Clone()

	diag, history := p.NaturalSelection(members)
	diag.ReplayTicks = ticks
	diag.MeanLifespan = lifespan / float64(len(members))
	diag.MeanTrades = trades / float64(len(members))
	result.Diagnostics = diag
	result.Species = history
	return result, nil
}

// Evaluate replays a single genome over data and returns its scored member.
func Evaluate(ctx context.Context, g *genome.Genome, agentCfg agent.Config, data Dataset) (Member, error) {
	agents, _, err := replay(ctx, Config{Workers: 1}, agentCfg, []*genome.Genome{g}, data)
	if err != nil {
		return Member{}, err
	}
	a := agents[0]
	return Member{Genome: g, Fitness: a.Fitness(), Stats: a.Stats(), DeathReason: a.DeathReason()}, nil
}

// replay advances all agents tick by tick. Every alive agent sees candle t
// before any agent sees t+1; within a tick agents are updated by a worker
// pool. Survivors are settled at the last close, which is never traded.
func replay(ctx context.Context, cfg Config, agentCfg agent.Config, genomes []*genome.Genome, data Dataset) ([]*agent.Agent, int, error) {
	if len(data.Candles) < 2 {
		return nil, 0, ErrNoCandles
	}
	agents := make([]*agent.Agent, len(genomes))
	for i, g := range genomes {
		a, err := agent.New(g, agentCfg, data.Matrix)
		if err != nil {
			return nil, 0, fmt.Errorf("agent %d: %w", i, err)
		}
		agents[i] = a
	}

	type job struct {
		agent *agent.Agent
		tick  int
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for w := 0; w < cfg.workers(len(agents)); w++ {
		go func() {
			for j := range jobs {
				j.agent.Update(data.Candles, j.tick)
				wg.Done()
			}
		}()
	}
	defer close(jobs)

	last := len(data.Candles) - 1
	ticks := 0
	alive := make([]*agent.Agent, 0, len(agents))
	for t := 0; t < last; t++ {
		if err := ctx.Err(); err != nil {
			return nil, ticks, err
		}
		alive = alive[:0]
		for _, a := range agents {
			if a.Alive() {
				alive = append(alive, a)
			}
		}
		if len(alive) == 0 {
			break
		}
		wg.Add(len(alive))
		for _, a := range alive {
			jobs <- job{agent: a, tick: t}
		}
		wg.Wait()
		ticks++
	}

	closePrice := data.Candles[last].Close
	for _, a := range agents {
		a.Finish(closePrice)
	}
	return agents, ticks, nil
}
