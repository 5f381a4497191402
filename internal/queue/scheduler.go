package queue

import (
	"github.com/rotisserie/eris"
)

// Job is one unit of queued work.
type Job struct {
	TenantID  string         `json:"tenant_id"`
	QueueName string         `json:"queue_name"`
	Payload   map[string]any `json:"payload,omitempty"`
	Cost      int            `json:"cost"`
}

// TenantWeight is a tenant's share of the scheduler. Weights below 1 count
// as 1.
type TenantWeight struct {
	TenantID string `json:"tenant_id"`
	Weight   int    `json:"weight"`
}

type tenantQueue struct {
	weight  int
	deficit int
	jobs    []Job
}

// FairScheduler is a deficit round robin over tenant queues. Tenants are
// visited in the order they were registered.
type FairScheduler struct {
	order   []string
	tenants map[string]*tenantQueue
}

// NewFairScheduler registers the given tenants in order. At least one tenant
// is required.
func NewFairScheduler(weights []TenantWeight) (*FairScheduler, error) {
	if len(weights) == 0 {
		return nil, eris.New("queue: scheduler weights must not be empty")
	}
	s := &FairScheduler{tenants: make(map[string]*tenantQueue, len(weights))}
	for _, w := range weights {
		s.register(w.TenantID, w.Weight)
	}
	return s, nil
}

func (s *FairScheduler) register(tenantID string, weight int) *tenantQueue {
	if tq, ok := s.tenants[tenantID]; ok {
		tq.weight = max(1, weight)
		return tq
	}
	tq := &tenantQueue{weight: max(1, weight)}
	s.tenants[tenantID] = tq
	s.order = append(s.order, tenantID)
	return tq
}

// Enqueue appends job to its tenant's queue. Unknown tenants are registered
// with weight 1. A non-positive cost is treated as 1.
func (s *FairScheduler) Enqueue(job Job) {
	if job.Cost <= 0 {
		job.Cost = 1
	}
	tq, ok := s.tenants[job.TenantID]
	if !ok {
		tq = s.register(job.TenantID, 1)
	}
	tq.jobs = append(tq.jobs, job)
}

// Next credits every tenant with its weight, then pops the head job of the
// first tenant, in registration order, whose deficit covers it. It returns
// false when no job fits.
func (s *FairScheduler) Next() (Job, bool) {
	for _, id := range s.order {
		tq := s.tenants[id]
		tq.deficit += tq.weight
	}
	for _, id := range s.order {
		tq := s.tenants[id]
		if len(tq.jobs) == 0 {
			continue
		}
		head := tq.jobs[0]
		if head.Cost <= tq.deficit {
			tq.deficit -= head.Cost
			tq.jobs = tq.jobs[1:]
			return head, true
		}
	}
	return Job{}, false
}

// Pending is the number of queued jobs across all tenants.
func (s *FairScheduler) Pending() int {
	n := 0
	for _, tq := range s.tenants {
		n += len(tq.jobs)
	}
	return n
}

// Tenants returns the tenant ids in visiting order.
func (s *FairScheduler) Tenants() []string {
	return append([]string(nil), s.order...)
}
