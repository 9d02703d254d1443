package poller

import "time"

type PlannerConfig struct {
	PollInterval time.Duration // default: 1 minute, used while cycles keep finding work
	IdleInterval time.Duration // default: 15 minutes

	Backoff1 time.Duration // default: 1 minute
	Backoff2 time.Duration // default: 5 minutes
	Backoff3 time.Duration // default: 15 minutes
	Backoff4 time.Duration // default: 30 minutes
}

func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		PollInterval: 1 * time.Minute,
		IdleInterval: 15 * time.Minute,

		Backoff1: 1 * time.Minute,
		Backoff2: 5 * time.Minute,
		Backoff3: 15 * time.Minute,
		Backoff4: 30 * time.Minute,
	}
}

// Planner decides how long the loop sleeps after a cycle.
type Planner struct {
	cfg PlannerConfig
}

func NewPlanner(cfg PlannerConfig) *Planner {
	def := DefaultPlannerConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}
	if cfg.IdleInterval < cfg.PollInterval {
		cfg.IdleInterval = cfg.PollInterval
	}
	if cfg.Backoff1 <= 0 {
		cfg.Backoff1 = def.Backoff1
	}
	if cfg.Backoff2 <= 0 {
		cfg.Backoff2 = def.Backoff2
	}
	if cfg.Backoff3 <= 0 {
		cfg.Backoff3 = def.Backoff3
	}
	if cfg.Backoff4 <= 0 {
		cfg.Backoff4 = def.Backoff4
	}
	return &Planner{cfg: cfg}
}

func (p *Planner) Config() PlannerConfig { return p.cfg }

// NextDelay is the pause after a successful cycle.
func (p *Planner) NextDelay(foundWork bool) time.Duration {
	if foundWork {
		return p.cfg.PollInterval
	}
	return p.cfg.IdleInterval
}

// BackoffDelay is the pause after the given number of consecutive failed cycles.
func (p *Planner) BackoffDelay(consecutiveFails int) time.Duration {
	switch {
	case consecutiveFails <= 1:
		return p.cfg.Backoff1
	case consecutiveFails == 2:
		return p.cfg.Backoff2
	case consecutiveFails == 3:
		return p.cfg.Backoff3
	default:
		return p.cfg.Backoff4
	}
}
