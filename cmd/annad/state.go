package main

import (
	"sync"

	"github.com/anna-assistant/annad/internal/change"
)

// planRegistry holds plans and their most recent apply result keyed by
// content hash, so a later RollbackChange call can find a previously
// applied plan's backups. No package in the corpus owns this kind of
// short-lived in-process bookkeeping, so it is built directly on
// sync.Mutex + map rather than grounded on an example (see DESIGN.md).
type planRegistry struct {
	mu      sync.Mutex
	plans   map[string]change.Plan
	results map[string]change.Result
}

func newPlanRegistry() *planRegistry {
	return &planRegistry{
		plans:   make(map[string]change.Plan),
		results: make(map[string]change.Result),
	}
}

func (p *planRegistry) put(plan change.Plan) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plans[plan.ContentHash()] = plan
}

func (p *planRegistry) get(hash string) (change.Plan, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	plan, ok := p.plans[hash]
	return plan, ok
}

func (p *planRegistry) recordResult(hash string, res change.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[hash] = res
}

func (p *planRegistry) result(hash string) (change.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results[hash]
	return res, ok
}
