package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	utils "livecast/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const relayQueueSize = 1024

// RelayMessage carries one room broadcast between server instances.
type RelayMessage struct {
	InstanceID string          `json:"instance_id"`
	Room       string          `json:"room"`
	Event      string          `json:"event"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Relay republishes room broadcasts over Redis pub/sub so that clients
// connected to other instances see them. Messages from this instance are
// ignored on receipt.
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	queue      chan *RelayMessage
}

func NewRelay(client *redis.Client, channel, instanceID string) *Relay {
	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		queue:      make(chan *RelayMessage, relayQueueSize),
	}
}

func (r *Relay) InstanceID() string {
	return r.instanceID
}

// Enqueue schedules a broadcast for publishing without blocking the caller.
func (r *Relay) Enqueue(room, event string, payload []byte) {
	msg := &RelayMessage{
		InstanceID: r.instanceID,
		Room:       room,
		Event:      event,
		Payload:    payload,
		Timestamp:  time.Now(),
	}
	select {
	case r.queue <- msg:
	default:
		utils.Logger.Warnf("Relay queue full, dropping %s for room %s", event, room)
	}
}

// RunPublisher drains the queue until ctx is done.
func (r *Relay) RunPublisher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			if err := r.publish(ctx, msg); err != nil {
				utils.Logger.Errorf("Relay publish failed: %v", err)
			}
		}
	}
}

func (r *Relay) publish(ctx context.Context, msg *RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay message: %w", err)
	}
	return nil
}

// Subscribe delivers messages from other instances to handler until ctx is done.
func (r *Relay) Subscribe(ctx context.Context, handler func(*RelayMessage)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	utils.Logger.Infof("Chat relay subscribed to %s as %s", r.channel, r.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload, handler)
		}
	}
}

func (r *Relay) handle(payload string, handler func(*RelayMessage)) {
	var msg RelayMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		utils.Logger.Warnf("Failed to unmarshal relay message: %v", err)
		return
	}
	if msg.InstanceID == r.instanceID {
		return
	}
	handler(&msg)
}
