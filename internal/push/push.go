// Package push defines the shared domain types of the notification delivery
// pipeline: payload envelopes, delivery paths, deduplication tags, the typed
// inter-context message contract and destination routing.
package push

import (
	"fmt"
	"time"
)

// DeliveryPath identifies which of the two delivery paths observed a payload
type DeliveryPath string

const (
	// PathBackground marks payloads received by the background delivery agent
	PathBackground DeliveryPath = "background"
	// PathForeground marks payloads received by a focused page's listener
	PathForeground DeliveryPath = "foreground"
)

// PermissionState mirrors the platform notification permission
type PermissionState string

const (
	// PermissionUnasked means the user has not been prompted yet
	PermissionUnasked PermissionState = "unasked"
	// PermissionGranted means the user allowed notifications
	PermissionGranted PermissionState = "granted"
	// PermissionDenied means the user blocked notifications; sticky until
	// changed outside the app
	PermissionDenied PermissionState = "denied"
)

// Payload is the wire shape delivered by the push provider
type Payload struct {
	Notification *PayloadNotification `json:"notification,omitempty"`
	Data         map[string]string    `json:"data,omitempty"`
}

// PayloadNotification carries the displayable part of a payload
type PayloadNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Envelope is a payload in transit through the pipeline. It is ephemeral:
// it exists only between delivery and the bus signal, never persisted.
type Envelope struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	Path       DeliveryPath      `json:"delivery_path"`
	ReceivedAt time.Time         `json:"received_at"`
}

// ToEnvelope converts a wire payload into an envelope for the given path
func (p *Payload) ToEnvelope(path DeliveryPath) *Envelope {
	env := &Envelope{
		Title:      "EMS Notification",
		Body:       "You have a new notification",
		Path:       path,
		ReceivedAt: time.Now(),
	}
	if p.Notification != nil {
		if p.Notification.Title != "" {
			env.Title = p.Notification.Title
		}
		if p.Notification.Body != "" {
			env.Body = p.Notification.Body
		}
	}
	if p.Data != nil {
		env.Data = make(map[string]string, len(p.Data))
		for k, v := range p.Data {
			env.Data[k] = v
		}
	}
	return env
}

// Clone creates a copy of the envelope, including the data map, so it can be
// handed to multiple contexts without shared mutable state.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Data != nil {
		clone.Data = make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

// Data keys recognized in payloads
const (
	// DataKeyTag is a provider-assigned dedup tag
	DataKeyTag = "tag"
	// DataKeyExpenseID is the domain identifier used as a dedup fallback
	DataKeyExpenseID = "expense_id"
	// DataKeyType classifies the notification for destination routing
	DataKeyType = "type"
)

// DedupTag derives the stable tag used to collapse repeated deliveries of
// the same logical event. Preference order: provider-assigned tag, domain
// identifier, then notification type plus a coarse timestamp bucket. The tag
// is a heuristic; a missed collapse only costs one extra list re-fetch.
func (e *Envelope) DedupTag(bucket time.Duration) string {
	if tag := e.Data[DataKeyTag]; tag != "" {
		return tag
	}
	if id := e.Data[DataKeyExpenseID]; id != "" {
		return id
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	typ := e.Data[DataKeyType]
	if typ == "" {
		typ = "generic"
	}
	return fmt.Sprintf("%s-%d", typ, e.ReceivedAt.Truncate(bucket).Unix())
}
