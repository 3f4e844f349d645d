package galaxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	errorutil "github.com/projectdiscovery/utils/errors"

	"github.com/liquidgalaxy/lg-agent/pkg/galaxy/audit"
	"github.com/liquidgalaxy/lg-agent/pkg/kml"
	"github.com/liquidgalaxy/lg-agent/pkg/rig"
	"github.com/liquidgalaxy/lg-agent/pkg/sshexec"
)

const (
	// DefaultCommandTimeout bounds every individual remote command.
	DefaultCommandTimeout = 15 * time.Second

	// DefaultRefreshSettleDelay is the wait between the two manifest edits
	// of a forced refresh, and between refresh and playback in a pipeline.
	// The viewer exposes no "reload complete" signal, so the value is
	// empirical: long enough for the viewer's poll to land, short enough to
	// keep the UI responsive. This is the known race-condition surface of
	// the whole protocol; tune it per installation, do not remove it.
	DefaultRefreshSettleDelay = 2 * time.Second
)

// Controller drives one Liquid Galaxy cluster: content injection, viewer
// refresh, tour playback, teardown, and power fan-out. A single-writer
// mutex serializes content pipelines so two display requests cannot
// interleave on the shared slot mid-sequence.
type Controller struct {
	cluster *rig.Cluster
	runner  sshexec.Runner
	auditor *audit.Log

	commandTimeout     time.Duration
	refreshSettleDelay time.Duration
	fanOutWorkers      int
	sleep              func(time.Duration)

	// guards the content slot and tour signal, which are global mutable
	// state per rig with last-writer-wins semantics
	mu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithCommandTimeout overrides the per-command timeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Controller) { c.commandTimeout = d }
}

// WithRefreshSettleDelay overrides the refresh settle delay.
func WithRefreshSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.refreshSettleDelay = d }
}

// WithFanOutParallelism makes power fan-outs run with up to n workers
// instead of the sequential default. Failure isolation is unchanged.
func WithFanOutParallelism(n int) Option {
	return func(c *Controller) { c.fanOutWorkers = n }
}

// WithAuditLog records every dispatched command to the given audit log.
func WithAuditLog(l *audit.Log) Option {
	return func(c *Controller) { c.auditor = l }
}

// New creates a Controller for a validated cluster over the given runner.
func New(cluster *rig.Cluster, runner sshexec.Runner, opts ...Option) (*Controller, error) {
	if err := cluster.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cluster:            cluster,
		runner:             runner,
		commandTimeout:     DefaultCommandTimeout,
		refreshSettleDelay: DefaultRefreshSettleDelay,
		sleep:              time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Controller) run(ctx context.Context, stage string, rigID int, command string) error {
	_, err := c.runner.Run(ctx, command, c.commandTimeout)
	if c.auditor != nil {
		c.auditor.Record(stage, rigID, command, err)
	}
	if err != nil {
		return errorutil.NewWithErr(err).Msgf("stage %s failed on rig %d", stage, rigID)
	}
	return nil
}

// Inject writes the escaped payload into a content slot on the master's
// web root. The postcondition is only that the remote file holds the
// payload; making the viewer notice is ForceRefresh's job.
func (c *Controller) Inject(ctx context.Context, slot, payload string) error {
	if _, err := slotRig(slot); err != nil {
		return err
	}
	escaped := kml.EscapeShellPayload(payload)
	return c.run(ctx, "inject", rig.MasterRig, writeFileCommand(slotPath(slot), escaped))
}

// ForceRefresh makes the viewer owning slot re-read it: append a
// short-poll directive next to the slot's manifest reference, wait for the
// viewer's poll to land, then remove the directive again. Both phases must
// run; a manifest left in phase-one state polls forever.
func (c *Controller) ForceRefresh(ctx context.Context, slot string) error {
	rigID, err := slotRig(slot)
	if err != nil {
		return err
	}
	add := throughAlias(c.cluster.Username, c.cluster.Password, rigID,
		addRefreshCommand(c.cluster.Username, c.cluster.Password, slot))
	remove := throughAlias(c.cluster.Username, c.cluster.Password, rigID,
		removeRefreshCommand(c.cluster.Username, c.cluster.Password, slot))

	if err := c.run(ctx, "refresh-add", rigID, add); err != nil {
		return err
	}
	c.sleep(c.refreshSettleDelay)
	if err := c.run(ctx, "refresh-remove", rigID, remove); err != nil {
		return errorutil.NewWithErr(err).Msgf("manifest on rig %d may be stuck in polling state", rigID)
	}
	return nil
}

// PlayTour overwrites the tour signal with playtour=<name>. The slot must
// already define a tour with that name and the refresh must have settled,
// otherwise the viewer ignores the signal or plays stale content.
func (c *Controller) PlayTour(ctx context.Context, name string) error {
	return c.run(ctx, "play-tour", rig.MasterRig, writeQueryCommand("playtour="+name))
}

// ExitTour stops any running tour.
func (c *Controller) ExitTour(ctx context.Context) error {
	return c.run(ctx, "exit-tour", rig.MasterRig, writeQueryCommand("exittour=true"))
}

// Clear resets a content slot to the empty document and blanks the tour
// signal. Idempotent: clearing an already-empty slot changes nothing.
func (c *Controller) Clear(ctx context.Context, slot string) error {
	if _, err := slotRig(slot); err != nil {
		return err
	}
	escaped := kml.EscapeShellPayload(kml.EmptyDocument)
	if err := c.run(ctx, "clear-slot", rig.MasterRig, writeFileCommand(slotPath(slot), escaped)); err != nil {
		return err
	}
	return c.run(ctx, "clear-signal", rig.MasterRig, writeQueryCommand(""))
}

// FlyTo runs the canonical display pipeline for one-shot content on the
// master slot: inject, force a refresh, wait for it to settle. Each step
// starts only after the previous one's remote call has returned.
func (c *Controller) FlyTo(ctx context.Context, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.Inject(ctx, rig.SlotName(rig.MasterRig), payload); err != nil {
		return err
	}
	if err := c.ForceRefresh(ctx, rig.SlotName(rig.MasterRig)); err != nil {
		return err
	}
	c.sleep(c.refreshSettleDelay)
	return nil
}

// ShowTour injects a tour document and starts playback of the named tour
// once the refresh has settled.
func (c *Controller) ShowTour(ctx context.Context, payload, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	master := rig.SlotName(rig.MasterRig)
	if err := c.Inject(ctx, master, payload); err != nil {
		return err
	}
	if err := c.ForceRefresh(ctx, master); err != nil {
		return err
	}
	c.sleep(c.refreshSettleDelay)
	return c.PlayTour(ctx, name)
}

// ClearAll tears down the master slot and the tour signal.
func (c *Controller) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Clear(ctx, rig.SlotName(rig.MasterRig))
}

// SetLogo pins a static overlay on one rig's slot. Slave slots are
// addressed individually and never renumbered.
func (c *Controller) SetLogo(ctx context.Context, rigID int, payload string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot := rig.SlotName(rigID)
	if err := c.Inject(ctx, slot, payload); err != nil {
		return err
	}
	return c.ForceRefresh(ctx, slot)
}

// Shutdown powers off every rig.
func (c *Controller) Shutdown(ctx context.Context) rig.ClusterResult {
	return c.powerFanOut(ctx, "shutdown", func(rigID int) string {
		return powerCommand(c.cluster.Username, c.cluster.Password, rigID, "poweroff")
	})
}

// Reboot restarts every rig.
func (c *Controller) Reboot(ctx context.Context) rig.ClusterResult {
	return c.powerFanOut(ctx, "reboot", func(rigID int) string {
		return powerCommand(c.cluster.Username, c.cluster.Password, rigID, "reboot")
	})
}

// RelaunchViewer restarts the viewer's display manager on every rig.
func (c *Controller) RelaunchViewer(ctx context.Context) rig.ClusterResult {
	return c.powerFanOut(ctx, "relaunch", func(rigID int) string {
		return relaunchCommand(c.cluster.Username, c.cluster.Password, rigID)
	})
}

func (c *Controller) powerFanOut(ctx context.Context, stage string, build rig.CommandBuilder) rig.ClusterResult {
	gologger.Info().Msgf("broadcasting %s to %d rigs", stage, c.cluster.Rigs)
	auditedBuild := func(rigID int) string {
		command := build(rigID)
		if c.auditor != nil {
			c.auditor.Record(stage, rigID, command, nil)
		}
		return command
	}
	var result rig.ClusterResult
	if c.fanOutWorkers > 0 {
		var err error
		result, err = rig.BroadcastParallel(ctx, c.runner, c.cluster, auditedBuild, c.commandTimeout, c.fanOutWorkers)
		if err != nil {
			gologger.Warning().Msgf("parallel fan-out unavailable, falling back to sequential: %s", err)
			result = rig.Broadcast(ctx, c.runner, c.cluster, auditedBuild, c.commandTimeout)
		}
	} else {
		result = rig.Broadcast(ctx, c.runner, c.cluster, auditedBuild, c.commandTimeout)
	}
	for _, o := range result.Failed() {
		gologger.Warning().Msgf("%s failed on rig %d: %s", stage, o.RigID, o.Detail())
	}
	return result
}

// Probe runs a cheap no-op on every rig and reports reachability.
func (c *Controller) Probe(ctx context.Context) rig.ClusterResult {
	return rig.Broadcast(ctx, c.runner, c.cluster, func(rigID int) string {
		return throughAlias(c.cluster.Username, c.cluster.Password, rigID, "echo ok")
	}, c.commandTimeout)
}

// String identifies the cluster in logs.
func (c *Controller) String() string {
	return fmt.Sprintf("galaxy[%s rigs=%d]", c.cluster.Addr(), c.cluster.Rigs)
}
