package metrics

import (
	"time"

	"github.com/cuemby/deploytrigger/pkg/apprepo"
)

// Collector periodically samples the application repository and publishes
// gauge metrics describing its current state (as opposed to the counters
// updated inline by the triggering engine and reconciler as events occur).
type Collector struct {
	repo   apprepo.Repository
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over repo.
func NewCollector(repo apprepo.Repository) *Collector {
	return &Collector{
		repo:   repo,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15-second tick.
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
	apps, err := c.repo.AsList()
	if err != nil {
		return
	}

	quarantined := 0
	withOutstanding := 0
	for _, app := range apps {
		if app.ProjectID == "" {
			quarantined++
		}
		if app.OutstandingChange != nil {
			withOutstanding++
		}
	}

	ApplicationsTotal.WithLabelValues("true").Set(float64(quarantined))
	ApplicationsTotal.WithLabelValues("false").Set(float64(len(apps) - quarantined))
	ApplicationsWithOutstandingChangeTotal.Set(float64(withOutstanding))

	for _, app := range apps {
		for key, status := range app.Jobs.Statuses {
			if status.LastCompleted == nil {
				continue
			}
			value := 0.0
			if status.LastCompleted.Error == nil {
				value = 1.0
			}
			JobStatus.WithLabelValues(app.ID, key).Set(value)
		}
	}
}
