package policy

import "time"

// EventType classifies a security event.
type EventType string

const (
	EventBlocked         EventType = "BLOCKED"
	EventAnomaly         EventType = "ANOMALY"
	EventRotationDue     EventType = "ROTATION_DUE"
	EventSandboxFallback EventType = "SANDBOX_FALLBACK"
)

// Layer names the admission layer that produced an event.
type Layer string

const (
	LayerLength     Layer = "length"
	LayerHeuristic  Layer = "heuristic"
	LayerBase64     Layer = "base64"
	LayerSimilarity Layer = "similarity"
	LayerLexicon    Layer = "lexicon"
	LayerScript     Layer = "mixed_script"
	LayerInvisible  Layer = "invisible_chars"
	LayerSandbox    Layer = "sandbox"
)

// SecurityEvent records a blocked request or other security-relevant
// occurrence. TenantID is zero when the event fired before authentication.
type SecurityEvent struct {
	TenantID  int64     `json:"tenant_id,omitempty"`
	Type      EventType `json:"event_type"`
	Layer     Layer     `json:"layer"`
	Reason    string    `json:"reason"`
	SourceIP  string    `json:"source_ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives security events for durable storage. The store
// package provides the Postgres implementation.
type EventSink interface {
	RecordSecurityEvent(event SecurityEvent)
}

// NopSink discards events. Used in tests and when no store is configured.
type NopSink struct{}

// RecordSecurityEvent implements EventSink.
func (NopSink) RecordSecurityEvent(SecurityEvent) {}
