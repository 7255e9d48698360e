// Package scheduler is the Scheduled event source (spec §3.3's
// SCHEDULED priority, §6.4's event_sources.scheduler config): each job
// is either a fixed interval or a cron expression, evaluated by
// adhocore/gronx, and fires a chat event carrying the job's prompt.
package scheduler

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/jbpayton/sophia-ams/internal/eventbus"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Job is one scheduled prompt.
type Job struct {
	ID              string
	Prompt          string
	IntervalSeconds int
	Cron            string
}

const SourceChannel = "scheduler"

// Channel runs each configured job on its own ticking goroutine.
type Channel struct {
	jobs []Job
	bus  *eventbus.Bus
	gron gronx.Gronx
}

// New constructs a scheduler channel for the given jobs.
func New(jobs []Job, bus *eventbus.Bus) *Channel {
	return &Channel{jobs: jobs, bus: bus, gron: gronx.New()}
}

// Start launches one goroutine per job; each stops when ctx is done.
func (c *Channel) Start(ctx context.Context) {
	log := logging.For("channels.scheduler")
	for _, job := range c.jobs {
		job := job
		switch {
		case job.Cron != "":
			go c.runCron(ctx, job)
		case job.IntervalSeconds > 0:
			go c.runInterval(ctx, job)
		default:
			log.Warn().Str("job_id", job.ID).Msg("job has neither cron nor interval_seconds, skipping")
		}
	}
}

func (c *Channel) runInterval(ctx context.Context, job Job) {
	ticker := time.NewTicker(time.Duration(job.IntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fire(job)
		}
	}
}

func (c *Channel) runCron(ctx context.Context, job Job) {
	log := logging.For("channels.scheduler")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := c.gron.IsDue(job.Cron)
			if err != nil {
				log.Warn().Err(err).Str("job_id", job.ID).Str("cron", job.Cron).Msg("invalid cron expression")
				continue
			}
			if due {
				c.fire(job)
			}
		}
	}
}

func (c *Channel) fire(job Job) {
	c.bus.Put(eventbus.New(eventbus.TypeScheduled, map[string]any{
		"session_id": "scheduled:" + job.ID,
		"content":    job.Prompt,
	}, eventbus.PriorityScheduled, SourceChannel))
}
