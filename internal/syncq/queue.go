// Package syncq persists ledger commands issued while offline. Each command
// keeps the idempotency key it was queued with, so replaying the queue after
// a flaky sync can never double-apply a deposit or settlement.
package syncq

import (
	"time"

	"stakehouse/internal/statedir"
)

const queueFile = "queue.json"

// Command is one queued API call, replayed verbatim by sync. Label is the
// human-readable operation name shown when listing the queue.
type Command struct {
	Label          string         `json:"label,omitempty"`
	Method         string         `json:"method"`
	Path           string         `json:"path"`
	Body           map[string]any `json:"body,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	QueuedAt       time.Time      `json:"queued_at"`
}

// Age reports how long the command has been waiting, to the second.
func (c Command) Age(now time.Time) time.Duration {
	if c.QueuedAt.IsZero() {
		return 0
	}
	d := now.Sub(c.QueuedAt)
	if d < 0 {
		return 0
	}
	return d.Truncate(time.Second)
}

func Load() ([]Command, error) {
	var out []Command
	ok, err := statedir.ReadJSON(queueFile, &out)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []Command{}, nil
	}
	return out, nil
}

func Save(commands []Command) error {
	return statedir.WriteJSON(queueFile, commands)
}

// Push stamps the command with the queue time and appends it.
func Push(cmd Command) error {
	commands, err := Load()
	if err != nil {
		return err
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return Save(commands)
}
