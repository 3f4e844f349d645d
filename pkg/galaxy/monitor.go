package galaxy

import (
	"context"
	"time"

	"github.com/projectdiscovery/gologger"
)

// Monitor periodically probes every rig and logs reachability transitions.
// It is observational only: it never restarts anything, because a rig that
// stopped answering mid-pipeline cannot be recovered by the controller
// (the already-dispatched command is gone either way).
type Monitor struct {
	controller    *Controller
	checkInterval time.Duration
	reachable     map[int]bool
}

// NewMonitor creates a monitor over the controller's cluster.
func NewMonitor(controller *Controller, checkInterval time.Duration) *Monitor {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &Monitor{
		controller:    controller,
		checkInterval: checkInterval,
		reachable:     make(map[int]bool),
	}
}

// Start blocks, probing on a ticker until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	m.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	result := m.controller.Probe(ctx)
	for _, o := range result.Outcomes {
		was, seen := m.reachable[o.RigID]
		if seen && was == o.Success {
			continue
		}
		if o.Success {
			gologger.Info().Msgf("rig %d reachable", o.RigID)
		} else {
			gologger.Warning().Msgf("rig %d unreachable: %s", o.RigID, o.Detail())
		}
		m.reachable[o.RigID] = o.Success
	}
}
