package coordinator

import (
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/layer-3/dair/core"
)

// Correlator maps correlation ids to the validation jobs awaiting a reply.
// It also guarantees a place never has more than one outstanding job.
type Correlator struct {
	mu      sync.Mutex
	jobs    map[string]core.ValidationJob
	byPlace map[string]string
}

func NewCorrelator() *Correlator {
	return &Correlator{
		jobs:    make(map[string]core.ValidationJob),
		byPlace: make(map[string]string),
	}
}

// Register stores job under correlationID. The id check, the place
// exclusivity check and the insert happen as one step.
func (c *Correlator) Register(correlationID string, job core.ValidationJob) error {
	if correlationID == "" {
		return fmt.Errorf("empty correlation id: %w", core.ErrMalformedMessage)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.jobs[correlationID]; ok {
		return fmt.Errorf("%s: %w", correlationID, core.ErrDuplicateCorrelation)
	}
	if held, ok := c.byPlace[job.PlaceID]; ok {
		return fmt.Errorf("place %s held by %s: %w", job.PlaceID, held, core.ErrPlaceBusy)
	}
	job.CorrelationID = correlationID
	c.jobs[correlationID] = job
	c.byPlace[job.PlaceID] = correlationID
	return nil
}

// Resolve removes and returns the job. Only the first call for an id
// succeeds; later calls get core.ErrNotFound.
func (c *Correlator) Resolve(correlationID string) (core.ValidationJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[correlationID]
	if !ok {
		return core.ValidationJob{}, fmt.Errorf("correlation %s: %w", correlationID, core.ErrNotFound)
	}
	c.remove(job)
	return job, nil
}

// Lookup returns the job without consuming it.
func (c *Correlator) Lookup(correlationID string) (core.ValidationJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[correlationID]
	return job, ok
}

// Outstanding returns the job currently held for a place, if any.
func (c *Correlator) Outstanding(placeID string) (core.ValidationJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byPlace[placeID]
	if !ok {
		return core.ValidationJob{}, false
	}
	return c.jobs[id], true
}

// CancelSession removes every job addressed to the session and returns them.
func (c *Correlator) CancelSession(session core.SessionID) []core.ValidationJob {
	c.mu.Lock()
	defer c.mu.Unlock()

	var cancelled []core.ValidationJob
	for _, job := range c.jobs {
		if job.Session == session {
			cancelled = append(cancelled, job)
		}
	}
	for _, job := range cancelled {
		c.remove(job)
	}
	return cancelled
}

// Expire yields every job registered before olderThan, oldest first,
// removing each one as it is yielded. Stopping early leaves the rest in
// place, so the sequence can simply be ranged over again.
func (c *Correlator) Expire(olderThan time.Time) iter.Seq[core.ValidationJob] {
	return func(yield func(core.ValidationJob) bool) {
		for {
			job, ok := c.takeOldest(olderThan)
			if !ok {
				return
			}
			if !yield(job) {
				return
			}
		}
	}
}

// Len returns the number of outstanding jobs.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

// Count returns the number of outstanding jobs addressed to a session.
func (c *Correlator) Count(session core.SessionID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, job := range c.jobs {
		if job.Session == session {
			n++
		}
	}
	return n
}

func (c *Correlator) takeOldest(olderThan time.Time) (core.ValidationJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		oldest core.ValidationJob
		found  bool
	)
	for _, job := range c.jobs {
		if !job.CreatedAt.Before(olderThan) {
			continue
		}
		if !found || job.CreatedAt.Before(oldest.CreatedAt) {
			oldest, found = job, true
		}
	}
	if found {
		c.remove(oldest)
	}
	return oldest, found
}

// remove must be called with mu held.
func (c *Correlator) remove(job core.ValidationJob) {
	delete(c.jobs, job.CorrelationID)
	if c.byPlace[job.PlaceID] == job.CorrelationID {
		delete(c.byPlace, job.PlaceID)
	}
}
