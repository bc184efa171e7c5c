package rpcclient

import (
	"context"
	"sync"
	"time"
)

// Endpoint is one ledger RPC server with health tracking.
type Endpoint struct {
	URL         string
	Healthy     bool
	LastError   error
	LastSuccess time.Time
	Latency     time.Duration
}

// Pool hands out endpoints for requests.
type Pool interface {
	// GetEndpoint returns an endpoint to send the next request to.
	GetEndpoint(ctx context.Context) (*Endpoint, error)

	// MarkUnhealthy records a transport failure.
	MarkUnhealthy(url string, err error)

	// MarkHealthy records a successful round trip.
	MarkHealthy(url string, latency time.Duration)

	// HealthyCount returns the number of endpoints currently considered healthy.
	HealthyCount() int
}

// RoundRobin rotates through its endpoints, skipping unhealthy ones while
// any healthy endpoint remains.
type RoundRobin struct {
	endpoints []*Endpoint
	mu        sync.Mutex
	idx       int
}

// NewRoundRobin creates a pool over urls. Every endpoint starts healthy.
func NewRoundRobin(urls []string) *RoundRobin {
	endpoints := make([]*Endpoint, len(urls))
	for i, url := range urls {
		endpoints[i] = &Endpoint{URL: url, Healthy: true}
	}
	return &RoundRobin{endpoints: endpoints}
}

// GetEndpoint implements Pool.
func (p *RoundRobin) GetEndpoint(ctx context.Context) (*Endpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for i := 0; i < len(p.endpoints); i++ {
		idx := (p.idx + i) % len(p.endpoints)
		if ep := p.endpoints[idx]; ep.Healthy {
			p.idx = (idx + 1) % len(p.endpoints)
			return ep, nil
		}
	}

	// All endpoints failed; keep rotating so one that recovers is found.
	ep := p.endpoints[p.idx]
	p.idx = (p.idx + 1) % len(p.endpoints)
	return ep, nil
}

func (p *RoundRobin) find(url string) *Endpoint {
	for _, ep := range p.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}

// MarkUnhealthy implements Pool.
func (p *RoundRobin) MarkUnhealthy(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep := p.find(url); ep != nil {
		ep.Healthy = false
		ep.LastError = err
	}
}

// MarkHealthy implements Pool.
func (p *RoundRobin) MarkHealthy(url string, latency time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ep := p.find(url); ep != nil {
		ep.Healthy = true
		ep.LastSuccess = time.Now()
		ep.Latency = latency
		ep.LastError = nil
	}
}

// HealthyCount implements Pool.
func (p *RoundRobin) HealthyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, ep := range p.endpoints {
		if ep.Healthy {
			count++
		}
	}
	return count
}
