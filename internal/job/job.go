// Package job implements the scheduler's runtime record per operator
// instance (spec.md §3/§4.D), grounded on governor/runtime/job.py's Job
// and Jobs container.
package job

import (
	"sync"

	"github.com/mproissl/governor/internal/operator"
)

// Config is the subset of an operator configuration record the
// scheduler consults when creating and advancing a Job.
type Config struct {
	ID                    string
	Label                 string
	Repeat                int
	ReinitializeInRepeats bool
	SaveOutput            bool
	SharedOutputName      string
}

// Job is pure data; the scheduler is the sole mutator, per spec.md
// §4.D. Invariant: 0 <= RemainingRepeats <= Config.Repeat;
// Online implies the id is not yet in the scheduler's completed set.
type Job struct {
	ID               string
	Handle           operator.Handle
	Config           Config
	RemainingRepeats int
	Online           bool
}

// New creates a Job with RemainingRepeats seeded from config.Repeat.
// A zero or negative repeat count is raised to 1, so every job runs at
// least once.
func New(id string, handle operator.Handle, config Config) *Job {
	repeat := config.Repeat
	if repeat < 0 {
		repeat = 0
	}
	if repeat == 0 {
		repeat = 1
	}
	return &Job{
		ID:               id,
		Handle:           handle,
		Config:           config,
		RemainingRepeats: repeat,
		Online:           false,
	}
}

// OutputKey returns the SharedStore key a successful run is written
// under: Config.SharedOutputName if set, else the job's id.
func (j *Job) OutputKey() string {
	if j.Config.SharedOutputName != "" {
		return j.Config.SharedOutputName
	}
	return j.ID
}

// Container is the scheduler's live job table, grounded on governor's
// Jobs container (add/delete/delete_conditional/get/all).
type Container struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewContainer creates an empty job table.
func NewContainer() *Container {
	return &Container{jobs: make(map[string]*Job)}
}

// Add inserts a job keyed by its id.
func (c *Container) Add(j *Job) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs[j.ID] = j
}

// Get returns the job for id, or nil if absent.
func (c *Container) Get(id string) *Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs[id]
}

// Delete removes the job for id.
func (c *Container) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.jobs, id)
}

// DeleteOnline removes every job whose Online flag matches online —
// restored from governor's Jobs.delete_conditional, used by the
// scheduler's termination path to drop in-flight jobs in bulk.
func (c *Container) DeleteOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, j := range c.jobs {
		if j.Online == online {
			delete(c.jobs, id)
		}
	}
}

// Has reports whether id currently has a job.
func (c *Container) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[id]
	return ok
}

// Len reports the number of live jobs.
func (c *Container) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// All returns a snapshot slice of the live jobs.
func (c *Container) All() []*Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, j)
	}
	return out
}
