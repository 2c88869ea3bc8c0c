package models

import (
	"fmt"
)

// BotStatus represents the lifecycle status of a bot worker.
type BotStatus string

const (
	// StatusCreated is the initial status of a freshly provisioned bot.
	StatusCreated BotStatus = "CREATED"
	// StatusRunning means the worker loop is live.
	StatusRunning BotStatus = "RUNNING"
	// StatusStopped is the terminal status after a clean shutdown.
	StatusStopped BotStatus = "STOPPED"
	// StatusPaused is reserved; no code path currently enters it.
	StatusPaused BotStatus = "PAUSED"
	// StatusError marks a fatal startup or unrecoverable failure.
	StatusError BotStatus = "ERROR"
)

// Valid reports whether the status is one of the defined constants.
func (s BotStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusStopped, StatusPaused, StatusError:
		return true
	default:
		return false
	}
}

// StatusTransition defines a single permitted status change.
type StatusTransition struct {
	From        BotStatus
	To          BotStatus
	Description string
}

// ValidStatusTransitions enumerates every permitted bot status change.
// ERROR is reachable from any non-terminal status; STOPPED and ERROR are
// terminal for a given process run.
var ValidStatusTransitions = []StatusTransition{
	{StatusCreated, StatusRunning, "worker startup completed"},
	{StatusCreated, StatusError, "startup failed"},
	{StatusRunning, StatusStopped, "clean shutdown"},
	{StatusRunning, StatusError, "unrecoverable failure"},
	{StatusRunning, StatusPaused, "reserved"},
	{StatusPaused, StatusRunning, "reserved"},
	{StatusPaused, StatusStopped, "reserved"},
	{StatusPaused, StatusError, "reserved"},
	{StatusStopped, StatusRunning, "worker restarted, adopting open positions"},
	{StatusError, StatusRunning, "worker restarted after failure"},
}

// CanTransition reports whether moving from one status to another is allowed.
// Setting the same status again is treated as a no-op and is always allowed,
// so repeated persistence attempts after store failures stay legal.
func CanTransition(from, to BotStatus) bool {
	if from == to {
		return true
	}
	for _, t := range ValidStatusTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a descriptive error when a status change is not
// permitted by the transition table.
func CheckTransition(from, to BotStatus) error {
	if !to.Valid() {
		return fmt.Errorf("unknown bot status %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid bot status transition %s -> %s", from, to)
	}
	return nil
}

// StatusDescription returns a human-readable description of a status.
func StatusDescription(s BotStatus) string {
	switch s {
	case StatusCreated:
		return "Provisioned, waiting for a worker"
	case StatusRunning:
		return "Worker loop live"
	case StatusStopped:
		return "Stopped cleanly"
	case StatusPaused:
		return "Paused (reserved)"
	case StatusError:
		return "Failed; see error_message"
	default:
		return "Unknown status"
	}
}
