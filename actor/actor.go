// Package actor implements the cooperative, single-consumer-per-mailbox
// actor runtime: priority mailboxes, supervision with restart, a shared
// kill switch, and a virtual-time scheduler.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package actor

import (
	"context"

	"github.com/pkg/errors"
)

// ExitStatus is the closed set of terminal states an actor can reach.
type ExitStatus int

const (
	Success ExitStatus = iota
	Quit
	DownstreamClosed
	Killed
	Failure
	Panicked
)

func (s ExitStatus) String() string {
	switch s {
	case Success:
		return "Success"
	case Quit:
		return "Quit"
	case DownstreamClosed:
		return "DownstreamClosed"
	case Killed:
		return "Killed"
	case Failure:
		return "Failure"
	case Panicked:
		return "Panicked"
	default:
		return "Unknown"
	}
}

// RunState is the supervisor's view of a running actor, distinct from its
// terminal ExitStatus.
type RunState int

const (
	Healthy RunState = iota
	Processing
	Paused
	FailureOrUnhealthy
)

// Envelope is one message delivered to an actor's Receive, tagged with the
// priority queue it was sent on.
type Envelope struct {
	Msg      interface{}
	Priority Priority
}

type Priority int

const (
	Low Priority = iota
	High
)

// Behavior is the user-supplied actor logic. Receive is invoked with one
// envelope at a time; the single-consumer guarantee means Behavior need not
// be safe for concurrent calls from more than one goroutine at a time, but
// it may itself be called again after a respawn, so it must not rely on any
// in-process state surviving a kill (mailboxes survive restarts; Behavior
// instances do not).
type Behavior interface {
	Receive(ctx context.Context, env Envelope) error
	Finalize(status ExitStatus)
}

// Result is what Run returns: the terminal status and, for Failure, the
// cause.
type Result struct {
	Status ExitStatus
	Err    error
}

// ErrKilled is returned by blocking sends/receives observing a tripped
// KillSwitch.
var ErrKilled = errors.New("actor: kill switch tripped")
