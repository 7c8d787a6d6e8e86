package server

import (
	"time"
)

// EventType identifies a dashboard event
type EventType string

const (
	// EventTypeTrainingProgress is emitted while a training run advances
	EventTypeTrainingProgress EventType = "training_progress"
	// EventTypeRequestLog is emitted for each API request
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus carries periodic model statistics
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection signals client connects and disconnects
	EventTypeConnection EventType = "connection"
)

// Event is a message pushed to dashboard clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// TrainingProgressEvent mirrors trainer progress for the dashboard
type TrainingProgressEvent struct {
	Epoch        int     `json:"epoch"`
	Epochs       int     `json:"epochs"`
	WordsTrained int64   `json:"words_trained"`
	TotalWords   int64   `json:"total_words"`
	Alpha        float32 `json:"alpha"`
	Percent      float64 `json:"percent"`
}

// RequestLogEvent describes a completed API request
type RequestLogEvent struct {
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	Duration     time.Duration `json:"duration"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent carries model-level statistics
type SystemStatusEvent struct {
	Status        string `json:"status"`
	VocabSize     int    `json:"vocab_size"`
	VectorSize    int    `json:"vector_size"`
	SequenceCount int    `json:"sequence_count"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ConnectionEvent signals a dashboard client change
type ConnectionEvent struct {
	Action   string `json:"action"`
	ClientID string `json:"client_id"`
	ClientIP string `json:"client_ip"`
}

// SubscriptionRequest lets a client restrict which events it receives
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// ClientMessage is an inbound message from a dashboard client
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}
