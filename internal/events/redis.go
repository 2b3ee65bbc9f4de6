package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "voicecore.events"

// Envelope is the JSON form of an Event published to out-of-process consumers.
type Envelope struct {
	Type       string    `json:"type"`
	Time       time.Time `json:"time"`
	Level      float32   `json:"level,omitempty"`
	Peak       float32   `json:"peak,omitempty"`
	Active     *bool     `json:"active,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Progress   float64   `json:"progress,omitempty"`
	Phase      string    `json:"phase,omitempty"`
	Text       string    `json:"text,omitempty"`
	Language   string    `json:"language,omitempty"`
	Final      bool      `json:"final,omitempty"`
	ModelID    string    `json:"model_id,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceName string    `json:"device_name,omitempty"`
	Connected  *bool     `json:"connected,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewEnvelope converts ev to its wire form.
func NewEnvelope(ev Event) Envelope {
	env := Envelope{
		Type:       ev.Type.String(),
		Time:       ev.Time,
		Level:      ev.Level,
		Peak:       ev.Peak,
		JobID:      ev.JobID,
		SessionID:  ev.SessionID,
		Progress:   ev.Progress,
		Phase:      ev.Phase,
		Text:       ev.Text,
		Language:   ev.Language,
		Final:      ev.Final,
		ModelID:    ev.ModelID,
		DeviceID:   ev.DeviceID,
		DeviceName: ev.DeviceName,
	}
	switch ev.Type {
	case VoiceDetected:
		active := ev.Active
		env.Active = &active
	case DeviceChanged:
		connected := ev.Connected
		env.Connected = &connected
	}
	if ev.Err != nil {
		env.Error = ev.Err.Error()
	}
	return env
}

// RedisSink publishes events to a Redis pub/sub channel for an IPC consumer.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects to the Redis server at addr.
func NewRedisSink(ctx context.Context, addr, channel string) (*RedisSink, error) {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("events: ping redis %s: %w", addr, err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Publish sends ev to the sink's channel.
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("events: publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
