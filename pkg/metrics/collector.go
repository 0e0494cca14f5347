package metrics

import (
	"time"

	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

// DesiredCounts reports the current desired count per pod group.
type DesiredCounts interface {
	DesiredCounts() map[string]int
}

// Collector periodically refreshes the gauge metrics from stored state.
type Collector struct {
	store   storage.Store
	desired DesiredCounts
	stopCh  chan struct{}
}

// NewCollector creates a collector reading from the store.
func NewCollector(store storage.Store, desired DesiredCounts) *Collector {
	return &Collector{
		store:   store,
		desired: desired,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a 15 second cadence.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectInstances()
	c.collectPlans()
	c.collectDesired()
}

func (c *Collector) collectInstances() {
	instances, err := c.store.ListInstances()
	if err != nil {
		return
	}

	counts := make(map[string]map[types.InstanceState]int)
	for _, inst := range instances {
		if counts[inst.Group] == nil {
			counts[inst.Group] = make(map[types.InstanceState]int)
		}
		counts[inst.Group][inst.State]++
	}

	InstancesTotal.Reset()
	for group, states := range counts {
		for state, count := range states {
			InstancesTotal.WithLabelValues(group, string(state)).Set(float64(count))
		}
	}
}

func (c *Collector) collectPlans() {
	plans, err := c.store.ListPlans()
	if err != nil {
		return
	}

	counts := make(map[types.PlanState]int)
	for _, plan := range plans {
		counts[plan.State]++
	}

	PlansTotal.Reset()
	for state, count := range counts {
		PlansTotal.WithLabelValues(string(state)).Set(float64(count))
	}
}

func (c *Collector) collectDesired() {
	if c.desired == nil {
		return
	}
	for group, count := range c.desired.DesiredCounts() {
		InstancesDesired.WithLabelValues(group).Set(float64(count))
	}
}
