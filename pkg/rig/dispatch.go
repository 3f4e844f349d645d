package rig

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	syncutil "github.com/projectdiscovery/utils/sync"

	"github.com/liquidgalaxy/lg-agent/pkg/sshexec"
)

// CommandBuilder produces the command line to run against one rig. The
// builder is invoked at dispatch time so runtime values (host alias,
// secret) are interpolated per call, never baked in.
type CommandBuilder func(rigID int) string

// Broadcast runs the built command against rigs 1..N sequentially,
// recording one outcome per rig. A failing rig never aborts the batch:
// rebooting rig 3 of 5 must still reach rigs 4 and 5 and report which one
// failed. Context cancellation stops issuing further commands; the
// remaining rigs are recorded as failed with the context error so the
// result always carries N outcomes.
func Broadcast(ctx context.Context, runner sshexec.Runner, cluster *Cluster, build CommandBuilder, timeout time.Duration) ClusterResult {
	result := ClusterResult{Outcomes: make([]Outcome, 0, cluster.Rigs)}
	for _, rigID := range cluster.RigIDs() {
		if err := ctx.Err(); err != nil {
			result.Outcomes = append(result.Outcomes, Outcome{RigID: rigID, Err: err})
			continue
		}
		result.Outcomes = append(result.Outcomes, runOne(ctx, runner, rigID, build(rigID), timeout))
	}
	return result
}

// BroadcastParallel is the bounded-parallel variant of Broadcast. Outcomes
// are still one per rig and ordered by rig ID, and individual failures
// still never abort the batch.
func BroadcastParallel(ctx context.Context, runner sshexec.Runner, cluster *Cluster, build CommandBuilder, timeout time.Duration, concurrency int) (ClusterResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	awg, err := syncutil.New(syncutil.WithSize(concurrency))
	if err != nil {
		return ClusterResult{}, err
	}

	var mu sync.Mutex
	result := ClusterResult{}

	for _, rigID := range cluster.RigIDs() {
		awg.Add()
		go func(rigID int) {
			defer awg.Done()

			var outcome Outcome
			if err := ctx.Err(); err != nil {
				outcome = Outcome{RigID: rigID, Err: err}
			} else {
				outcome = runOne(ctx, runner, rigID, build(rigID), timeout)
			}

			mu.Lock()
			result.Outcomes = append(result.Outcomes, outcome)
			mu.Unlock()
		}(rigID)
	}
	awg.Wait()

	sort.Slice(result.Outcomes, func(i, j int) bool {
		return result.Outcomes[i].RigID < result.Outcomes[j].RigID
	})
	return result, nil
}

func runOne(ctx context.Context, runner sshexec.Runner, rigID int, command string, timeout time.Duration) Outcome {
	if _, err := runner.Run(ctx, command, timeout); err != nil {
		gologger.Warning().Msgf("rig %d: command failed: %s", rigID, err)
		return Outcome{RigID: rigID, Err: err}
	}
	return Outcome{RigID: rigID, Success: true}
}
