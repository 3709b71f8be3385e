// CorpCraft SwarmEngine - event-driven multi-agent task coordination
// License: MIT
//
// Copyright (c) 2026 CorpCraft contributors

// Package engine assembles the bus, the swarm pipeline, policy, audit,
// skills, and autonomy into one runnable unit.
package engine

import (
	"fmt"
	"time"

	"github.com/corpcraft/swarmengine/pkg/audit"
	"github.com/corpcraft/swarmengine/pkg/autonomy"
	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/config"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/policy"
	"github.com/corpcraft/swarmengine/pkg/runtime"
	"github.com/corpcraft/swarmengine/pkg/skills"
	"github.com/corpcraft/swarmengine/pkg/store"
	"github.com/corpcraft/swarmengine/pkg/swarm"
)

// Engine owns every component and their subscription lifecycle.
type Engine struct {
	Bus       *bus.Bus
	Registry  *swarm.AgentRegistry
	Router    *swarm.IntentRouter
	Mode      *swarm.ModeState
	Budget    *swarm.BudgetTracker
	Summoner  *swarm.Summoner
	Approvals *policy.ApprovalEngine
	Trail     *audit.Trail
	Skills    *skills.Installer
	Cron      *autonomy.CronScheduler
	Watches   *autonomy.WatchReactor
	Comms     *autonomy.AgentComms

	analyzer   *swarm.TaskAnalyzer
	decomposer *swarm.Decomposer
	matcher    *swarm.Matcher
	executor   *swarm.Executor
	recovery   *swarm.Recovery
	compactor  *swarm.Compactor
	emp        *policy.EMP

	journal *store.SQLiteJournal
	unsubs  []func()
	started bool
}

// New builds an engine from configuration. Nothing subscribes or ticks
// until Start.
func New(cfg *config.Config) (*Engine, error) {
	opts := []bus.Option{
		bus.WithLeases(
			time.Duration(cfg.Engine.LeaseMS)*time.Millisecond,
			time.Duration(cfg.Engine.HighRiskLeaseMS)*time.Millisecond),
	}

	var journal *store.SQLiteJournal
	if cfg.Engine.JournalPath != "" {
		j, err := store.NewSQLiteJournal(cfg.Engine.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		journal = j
		opts = append(opts, bus.WithJournal(j))
	}

	b := bus.New(opts...)

	mode := swarm.NewModeState(runtime.Mode(cfg.Engine.ExecutionMode))
	runtimes := runtime.NewRegistry()
	registry := swarm.NewAgentRegistry(b)
	budget := swarm.NewBudgetTracker(b, cfg.HUD.MaxHP, cfg.HUD.MaxMP, cfg.HUD.MaxAP)
	router := swarm.NewIntentRouter(b)

	trail, err := audit.New(b, "", nil)
	if err != nil {
		b.Shutdown()
		return nil, err
	}

	skillLoader := skills.NewLoader(cfg.Skills.Dir)
	gate := skills.NewGate(b, cfg.Skills.Allowlist, nil, nil)

	e := &Engine{
		Bus:       b,
		Registry:  registry,
		Router:    router,
		Mode:      mode,
		Budget:    budget,
		Summoner:  swarm.NewSummoner(b, registry, budget, mode, cfg.Autonomy.Level),
		Approvals: policy.NewApprovalEngine(b, cfg.Approvals.CongestionThreshold),
		Trail:     trail,
		Skills:    skills.NewInstaller(b, skillLoader, gate),
		Cron:      autonomy.NewCronScheduler(router),
		Watches:   autonomy.NewWatchReactor(b, router),
		Comms:     autonomy.NewAgentComms(b),

		analyzer:   swarm.NewTaskAnalyzer(b, nil),
		decomposer: swarm.NewDecomposer(b, mode),
		matcher:    swarm.NewMatcher(b, registry),
		executor:   swarm.NewExecutor(b, registry, runtimes, mode, cfg.Engine.WorkDir),
		recovery:   swarm.NewRecovery(b, cfg.Engine.MaxRetries),
		compactor:  swarm.NewCompactor(b, 0),
		emp:        policy.NewEMP(b, nil, nil),

		journal: journal,
	}

	if err := e.loadAutonomy(cfg); err != nil {
		b.Shutdown()
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadAutonomy(cfg *config.Config) error {
	for _, jc := range cfg.Autonomy.Cron {
		if err := e.Cron.AddJob(autonomy.CronJob{
			Name:         jc.Name,
			Expr:         jc.Expr,
			Intent:       jc.Intent,
			RequiredTags: jc.RequiredTags,
		}); err != nil {
			return err
		}
	}
	for _, wc := range cfg.Autonomy.Watches {
		topics := make([]bus.Topic, 0, len(wc.Topics))
		for _, t := range wc.Topics {
			topics = append(topics, bus.Topic(t))
		}
		rule := autonomy.WatchRule{
			Name:           wc.Name,
			Topics:         topics,
			Filter:         wc.Filter,
			IntentTemplate: wc.IntentTemplate,
			MaxConcurrent:  wc.MaxConcurrent,
		}
		if wc.CooldownMS > 0 {
			rule.Cooldown = autonomy.CooldownLimit(time.Duration(wc.CooldownMS) * time.Millisecond)
		}
		if err := e.Watches.AddRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// Start wires every subscriber. Registration order matters on a
// synchronous bus: the decomposer must see TASK_POSTED before the
// matcher so decomposed roots are RESOLVING before any claim attempt.
func (e *Engine) Start() {
	if e.started {
		return
	}
	e.started = true

	e.unsubs = append(e.unsubs,
		e.analyzer.Subscribe(),
		e.decomposer.Subscribe(),
		e.matcher.Subscribe(),
		e.executor.Subscribe(),
		e.recovery.Subscribe(),
		e.Budget.Subscribe(),
		e.Summoner.Subscribe(),
		e.compactor.Subscribe(),
		e.emp.Subscribe(),
		e.Trail.Subscribe(),
		e.Watches.Subscribe(),
	)
	e.Cron.Start()
	logger.InfoC("engine", "engine started")
}

// Recruit registers a new agent with the swarm.
func (e *Engine) Recruit(name string, roleTags []string, autonomyLevel int) swarm.Agent {
	return e.Registry.Recruit(name, roleTags, autonomyLevel)
}

// Post routes a user intent onto the blackboard.
func (e *Engine) Post(intent string, opts swarm.RouteOptions) (bus.Event, error) {
	return e.Router.Route(intent, opts)
}

// Shutdown unwinds in reverse dependency order: stop sources of new
// work, drain executors, then close the bus and journal.
func (e *Engine) Shutdown() {
	if !e.started {
		e.closeStores()
		return
	}
	e.started = false

	e.Cron.Stop()
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil

	e.Summoner.Shutdown()
	e.Approvals.Shutdown()
	e.recovery.Shutdown()
	e.executor.Shutdown()
	e.Bus.Shutdown()
	e.closeStores()
	logger.InfoC("engine", "engine stopped")
}

func (e *Engine) closeStores() {
	e.Trail.Close()
	if e.journal != nil {
		e.journal.Close()
	}
}
