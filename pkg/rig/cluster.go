package rig

import (
	"fmt"
	"net"
	"strconv"

	errorutil "github.com/projectdiscovery/utils/errors"
)

const (
	// MasterRig is the primary display node; all interactive content goes
	// through its slot.
	MasterRig = 1

	DefaultSSHPort = 22
)

// Cluster describes a Liquid Galaxy installation reachable through its
// master rig. Rig identifiers run 1..Rigs; rig 1 is the master, the rest
// are slaves addressed through per-host aliases on the master's network.
type Cluster struct {
	Host     string
	Port     int
	Username string
	Password string
	Rigs     int
}

// Validate checks the cluster definition before any connection is made.
func (c *Cluster) Validate() error {
	if c.Host == "" {
		return errorutil.New("cluster host is required")
	}
	if c.Username == "" {
		return errorutil.New("cluster username is required")
	}
	if c.Rigs < 1 {
		return errorutil.New("cluster must have at least one rig, got %d", c.Rigs)
	}
	return nil
}

// Addr returns the dialable master endpoint.
func (c *Cluster) Addr() string {
	port := c.Port
	if port <= 0 {
		port = DefaultSSHPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// RigIDs returns the identifiers 1..Rigs in dispatch order.
func (c *Cluster) RigIDs() []int {
	ids := make([]int, 0, c.Rigs)
	for i := 1; i <= c.Rigs; i++ {
		ids = append(ids, i)
	}
	return ids
}

// SlotName maps a rig to its content slot: "master" for rig 1,
// "slave_<id>" for the rest. Slot names are never renumbered.
func SlotName(rigID int) string {
	if rigID == MasterRig {
		return "master"
	}
	return fmt.Sprintf("slave_%d", rigID)
}

// HostAlias returns the per-rig hostname alias used when fanning commands
// out from the master ("lg1", "lg2", ...).
func HostAlias(rigID int) string {
	return fmt.Sprintf("lg%d", rigID)
}

// Outcome records the result of one command against one rig.
type Outcome struct {
	RigID   int
	Success bool
	Err     error
}

// Detail returns a printable error detail, empty on success.
func (o Outcome) Detail() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// ClusterResult aggregates per-rig outcomes of a fan-out operation. There
// is deliberately no overall success flag: partial success is an expected
// state and callers must inspect individual outcomes.
type ClusterResult struct {
	Outcomes []Outcome
}

// Failed returns the outcomes that did not succeed.
func (r ClusterResult) Failed() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// Succeeded returns the count of successful outcomes.
func (r ClusterResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Success {
			n++
		}
	}
	return n
}
