package inference

import (
	"slices"
	"sync"
)

// FallbackChain is the ordered list of models for one model class. The
// selection only moves forward after threshold consecutive failures of the
// current model, and stays there until Reset.
type FallbackChain struct {
	mu        sync.Mutex
	models    []string
	current   int
	failures  int
	threshold int
}

type ChainState struct {
	Models   []string `json:"models"`
	Current  string   `json:"current"`
	Index    int      `json:"index"`
	Failures int      `json:"consecutive_failures"`
}

func NewFallbackChain(models []string, threshold int) *FallbackChain {
	unique := make([]string, 0, len(models))
	for _, model := range models {
		if model != "" && !slices.Contains(unique, model) {
			unique = append(unique, model)
		}
	}

	return &FallbackChain{
		models:    unique,
		threshold: max(threshold, 1),
	}
}

func (c *FallbackChain) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.models) == 0 {
		return ""
	}
	return c.models[c.current]
}

func (c *FallbackChain) RecordSuccess(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isCurrent(model) {
		c.failures = 0
	}
}

// RecordFailure counts a terminal failure of model and reports whether the
// threshold has been reached and a later candidate exists. Failures of a
// model that is no longer selected are ignored.
func (c *FallbackChain) RecordFailure(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrent(model) {
		return false
	}
	c.failures++
	return c.failures >= c.threshold && c.current < len(c.models)-1
}

// Candidates lists the models after the current selection, in order.
func (c *FallbackChain) Candidates() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.models) == 0 {
		return nil
	}
	return slices.Clone(c.models[c.current+1:])
}

// AdvanceTo switches from one model to a later one. It fails when another
// caller already moved the selection away from from.
func (c *FallbackChain) AdvanceTo(from, to string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isCurrent(from) {
		return false
	}
	idx := slices.Index(c.models, to)
	if idx <= c.current {
		return false
	}
	c.current = idx
	c.failures = 0
	return true
}

func (c *FallbackChain) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = 0
	c.failures = 0
}

func (c *FallbackChain) State() ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := ChainState{
		Models:   slices.Clone(c.models),
		Index:    c.current,
		Failures: c.failures,
	}
	if len(c.models) > 0 {
		state.Current = c.models[c.current]
	}
	return state
}

func (c *FallbackChain) isCurrent(model string) bool {
	return len(c.models) > 0 && c.models[c.current] == model
}
