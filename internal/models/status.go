package models

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// Action lifecycle events.
const (
	EventApprove          = "approve"
	EventReject           = "reject"
	EventExecuteSucceeded = "execute_succeeded"
	EventExecuteFailed    = "execute_failed"
	EventRollBack         = "roll_back"
)

var actionEvents = fsm.Events{
	{Name: EventApprove, Src: []string{string(StatusPending)}, Dst: string(StatusApproved)},
	{Name: EventReject, Src: []string{string(StatusPending), string(StatusApproved)}, Dst: string(StatusRejected)},
	{Name: EventExecuteSucceeded, Src: []string{string(StatusPending), string(StatusApproved)}, Dst: string(StatusExecuted)},
	{Name: EventExecuteFailed, Src: []string{string(StatusPending), string(StatusApproved)}, Dst: string(StatusFailed)},
	{Name: EventRollBack, Src: []string{string(StatusExecuted)}, Dst: string(StatusRolledBack)},
}

func newActionFSM(current ActionStatus) *fsm.FSM {
	return fsm.NewFSM(string(current), actionEvents, fsm.Callbacks{})
}

// CanTransition reports whether event is permitted from the given status.
func CanTransition(current ActionStatus, event string) bool {
	return newActionFSM(current).Can(event)
}

// Transition returns the status reached by applying event to current.
func Transition(current ActionStatus, event string) (ActionStatus, error) {
	machine := newActionFSM(current)
	if err := machine.Event(context.Background(), event); err != nil {
		return current, fmt.Errorf("cannot %s action in status %s: %w", event, current, err)
	}
	return ActionStatus(machine.Current()), nil
}

// IsExecutable reports whether an action in this status may be executed.
func (s ActionStatus) IsExecutable() bool {
	return CanTransition(s, EventExecuteSucceeded)
}
