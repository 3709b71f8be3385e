// Package autonomy lets the engine act without a human in the loop:
// cron-scheduled task posting, watch rules that react to bus traffic,
// and the agent-to-agent comms channel.
package autonomy

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/corpcraft/swarmengine/pkg/bus"
	"github.com/corpcraft/swarmengine/pkg/logger"
	"github.com/corpcraft/swarmengine/pkg/swarm"
)

// CronJob posts a task whenever its cron expression fires.
type CronJob struct {
	Name         string        `json:"name"`
	Expr         string        `json:"expr"`
	Intent       string        `json:"intent"`
	RequiredTags []string      `json:"required_tags,omitempty"`
	Risk         bus.RiskLevel `json:"risk,omitempty"`
}

// CronScheduler evaluates jobs once per minute. Reposting the same job
// within a minute is suppressed by the bus idempotency window via a
// minute-scoped key.
type CronScheduler struct {
	router *swarm.IntentRouter
	g      *gronx.Gronx

	mu   sync.Mutex
	jobs map[string]CronJob

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

func NewCronScheduler(router *swarm.IntentRouter) *CronScheduler {
	return &CronScheduler{
		router: router,
		g:      gronx.New(),
		jobs:   make(map[string]CronJob),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// AddJob validates the expression and registers the job. The short
// "minute hour day-of-week" form is expanded to a full five-field
// expression before validation.
func (s *CronScheduler) AddJob(job CronJob) error {
	if job.Name == "" {
		return fmt.Errorf("cron job needs a name")
	}
	job.Expr = expandCronExpr(job.Expr)
	if !s.g.IsValid(job.Expr) {
		return fmt.Errorf("cron job %s: invalid expression %q", job.Name, job.Expr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.Name] = job
	return nil
}

// expandCronExpr maps "minute hour day-of-week" onto the five-field
// grammar gronx evaluates. Anything else passes through unchanged.
func expandCronExpr(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) == 3 {
		return fmt.Sprintf("%s %s * * %s", fields[0], fields[1], fields[2])
	}
	return expr
}

// RemoveJob drops a job. Unknown names are a no-op.
func (s *CronScheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, name)
}

// Jobs lists the registered jobs.
func (s *CronScheduler) Jobs() []CronJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}

// Start ticks every minute, aligned to the wall clock.
func (s *CronScheduler) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				s.Tick(now)
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Tick evaluates every job against the reference time. Exposed so tests
// drive the scheduler without waiting a minute.
func (s *CronScheduler) Tick(now time.Time) {
	s.mu.Lock()
	jobs := make([]CronJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, job := range jobs {
		due, err := s.g.IsDue(job.Expr, now)
		if err != nil {
			logger.WarnCF("cron", "expression evaluation failed", map[string]any{
				"job": job.Name, "error": err.Error(),
			})
			continue
		}
		if !due {
			continue
		}
		s.fire(job, now)
	}
}

func (s *CronScheduler) fire(job CronJob, now time.Time) {
	// Key by job and minute: a duplicate tick inside the same minute
	// collapses into one posting on the bus.
	minute := now.Format("2006-01-02T15:04")
	ev, err := s.router.Route(job.Intent, swarm.RouteOptions{
		RiskLevel:      job.Risk,
		ExtraTags:      job.RequiredTags,
		IdempotencyKey: fmt.Sprintf("cron:%s:%s", job.Name, minute),
	})
	if err != nil {
		logger.WarnCF("cron", "failed to post task", map[string]any{
			"job": job.Name, "error": err.Error(),
		})
		return
	}
	logger.InfoCF("cron", "job fired", map[string]any{
		"job": job.Name, "task_id": ev.ID, "minute": minute,
	})
}

// Stop halts the ticker.
func (s *CronScheduler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
}
