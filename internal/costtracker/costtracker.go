// Package costtracker implements C5: a per-run running total of estimated
// dollar spend with a hard ceiling every outbound call in the pipeline
// must clear before it is allowed to fire.
package costtracker

import (
	"sync"
	"time"
)

// ApiCost is one recorded outbound call.
type ApiCost struct {
	Service   string
	Operation string
	Cost      float64
	Timestamp time.Time
}

// PricingTable maps "service.operation" to an estimated dollar cost, used
// by RecordApiCall when the caller doesn't supply an explicit cost. Values
// are the §4.9 defaults; callers may override per-Config.
var PricingTable = map[string]float64{
	"openai.classify": 0.02,
	"openai.analyze":  0.02,
	"openai.critique": 0.02,
	"firecrawl.*":     0.01, // per URL
	"brave.*":         0.003,
	"gmail.*":         0,
}

// defaultOpenAICost is the GPT-5-class fallback for any openai operation
// not in the cheaper classify/analyze/critique tier.
const defaultOpenAICost = 0.5

// CostTracker is a per-process singleton; its counters must be safe under
// concurrent access since stage handlers fan out internally (Classify,
// Extract) and may call RecordApiCall from multiple goroutines at once.
type CostTracker struct {
	mu            sync.Mutex
	costs         []ApiCost
	totalCost     float64
	callCounts    map[string]int
	maxCostPerRun float64
	approachingPct float64
}

// New constructs a CostTracker with the run's hard ceiling and the
// "approaching limit" warning threshold (fraction of the ceiling, e.g. 0.8).
func New(maxCostPerRun float64, approachingPct float64) *CostTracker {
	return &CostTracker{
		callCounts:     make(map[string]int),
		maxCostPerRun:  maxCostPerRun,
		approachingPct: approachingPct,
	}
}

func priceFor(service, operation string, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	if cost, ok := PricingTable[service+"."+operation]; ok {
		return cost
	}
	if cost, ok := PricingTable[service+".*"]; ok {
		return cost
	}
	if service == "openai" {
		return defaultOpenAICost
	}
	return 0
}

// RecordApiCall appends a cost entry and adds it to the running total.
// Pass cost=nil to derive the cost from PricingTable.
func (c *CostTracker) RecordApiCall(service, operation string, cost *float64) float64 {
	amount := priceFor(service, operation, cost)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.costs = append(c.costs, ApiCost{Service: service, Operation: operation, Cost: amount, Timestamp: time.Now()})
	c.totalCost += amount
	c.callCounts[service+"."+operation]++

	return amount
}

// CanAfford reports whether total + estimated would stay within the run
// ceiling.
func (c *CostTracker) CanAfford(estimated float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost+estimated <= c.maxCostPerRun
}

// IsApproachingLimit reports whether spend has crossed the warning
// threshold (default 0.8x the ceiling).
func (c *CostTracker) IsApproachingLimit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost > c.approachingPct*c.maxCostPerRun
}

// ShouldStop reports whether the ceiling has been reached or exceeded.
// No pipeline code calls it: stage handlers gate each outbound call on
// CanAfford, and the Orchestrator does not check it between stages.
func (c *CostTracker) ShouldStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost >= c.maxCostPerRun
}

// TotalCost returns the running total so far.
func (c *CostTracker) TotalCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalCost
}

// CallCount returns how many times service.operation has been recorded.
func (c *CostTracker) CallCount(service, operation string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callCounts[service+"."+operation]
}

// Reset clears all state for a new run.
func (c *CostTracker) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.costs = nil
	c.totalCost = 0
	c.callCounts = make(map[string]int)
}
