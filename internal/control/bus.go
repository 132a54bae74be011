// Package control is the in-process control plane for camera start/stop
// commands. It rides on core NATS pub/sub (no JetStream) so that issuing a
// command is fire-and-forget with no durable redelivery semantics to
// reason about.
package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const controlSubject = "camera.control"

// Action is a camera control command.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Command is published on controlSubject whenever an operator starts or
// stops a camera through the HTTP API.
type Command struct {
	Action   Action    `json:"action"`
	CameraID uuid.UUID `json:"camera_id"`
}

// Bus wraps a core-NATS connection for publishing and subscribing to
// camera control commands.
type Bus struct {
	nc *nats.Conn
}

func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Bus{nc: nc}, nil
}

// Publish sends cmd to every current subscriber; there is no queue, no ack,
// and no redelivery, by design.
func (b *Bus) Publish(cmd Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal control command: %w", err)
	}
	return b.nc.Publish(controlSubject, payload)
}

// Handler processes one Command.
type Handler func(Command)

// Subscribe registers fn to run for every Command published on the control
// subject. Payloads that do not decode as a Command are dropped without
// being logged.
func (b *Bus) Subscribe(fn Handler) (*nats.Subscription, error) {
	return b.nc.Subscribe(controlSubject, func(msg *nats.Msg) {
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			return
		}
		fn(cmd)
	})
}

func (b *Bus) Ping() error {
	if !b.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (b *Bus) Close() {
	b.nc.Close()
}
