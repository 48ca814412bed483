package persistence

import (
	"context"
)

// QueryEventType defines the events emitted while a session translates and runs
// queries. The names match linq.EventKind.
type QueryEventType string

const (
	QueryTranslateStart    QueryEventType = "query:translate:start"
	QueryTranslateSuccess  QueryEventType = "query:translate:success"
	QueryTranslateFailed   QueryEventType = "query:translate:failed"
	QueryCompiledHit       QueryEventType = "query:compiled:hit"
	QueryCompiledMiss      QueryEventType = "query:compiled:miss"
	QueryExecuteStart      QueryEventType = "query:execute:start"
	QueryExecuteSuccess    QueryEventType = "query:execute:success"
	QueryExecuteFailed     QueryEventType = "query:execute:failed"
	DocumentRegistered     QueryEventType = "document:registered"
	SubscriptionRegister   QueryEventType = "subscription:register"
	SubscriptionUnregister QueryEventType = "subscription:unregister"
)

// QueryEvent represents events emitted by a store and its sessions.
type QueryEvent struct {
	Type         QueryEventType `json:"type"`                   // The type of event (e.g., 'query:execute:success').
	Timestamp    int64          `json:"timestamp"`              // Timestamp when the event occurred (Unix milliseconds).
	Operation    string         `json:"operation"`              // The operator or action (e.g., 'ToList', 'register').
	DocumentType *string        `json:"documentType,omitempty"` // Go type of the queried document (if applicable).
	Tenant       *string        `json:"tenant,omitempty"`       // Tenant of the session (if any).
	SQL          []string       `json:"sql,omitempty"`          // Translated statements (if applicable).
	Error        *string        `json:"error,omitempty"`        // Error message if the operation failed.
	Duration     *int64         `json:"duration,omitempty"`     // Duration of the operation in milliseconds.
	Context      map[string]any `json:"context,omitempty"`      // Additional context specific to the event.
}

// EventCallbackFunction is the signature of subscription callbacks.
type EventCallbackFunction func(ctx context.Context, event QueryEvent) error

// SubscriptionInfo describes a subscription configuration.
type SubscriptionInfo struct {
	Id          *string        `json:"id,omitempty"`
	Event       QueryEventType `json:"event"`                 // The event subscribed to.
	Label       *string        `json:"label,omitempty"`       // Optional short identifier.
	Description *string        `json:"description,omitempty"` // Optional description.
	Unsubscribe func()         `json:"-"`
}

// RegisterSubscriptionOptions defines options for registering a subscription.
type RegisterSubscriptionOptions struct {
	Event       QueryEventType `json:"event"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Callback    EventCallbackFunction
}
