// SPDX-License-Identifier: MIT
// Package transport publishes detection events and pipeline statistics to
// external consumers. Nothing in the detection path depends on it; a slow
// or absent consumer never stalls frame processing.
package transport

import "time"

// Transport is a generic sink for events. Implementations must be safe
// for concurrent use and must not block the caller.
type Transport interface {
	Send(data any) error
	Close() error
}

// DetectionEvent is the JSON shape published to WebSocket clients when
// the wake word fires.
type DetectionEvent struct {
	Type       string    `json:"type"` // always "detection"
	Label      string    `json:"label"`
	Confidence float32   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDetectionEvent builds the event for one detection callback.
func NewDetectionEvent(label string, confidence float32, ts time.Time) DetectionEvent {
	return DetectionEvent{
		Type:       "detection",
		Label:      label,
		Confidence: confidence,
		Timestamp:  ts,
	}
}
