package persistence

import (
	"time"
)

func createEvent(
	eventType QueryEventType,
	operation string,
	documentType *string,
	tenant *string,
	sql []string,
	err *string,
	context map[string]any,
	startTime time.Time,
) QueryEvent {
	var duration *int64
	if !startTime.IsZero() {
		d := time.Since(startTime).Milliseconds()
		duration = &d
	}

	return QueryEvent{
		Type:         eventType,
		Timestamp:    time.Now().UnixMilli(),
		Operation:    operation,
		DocumentType: documentType,
		Tenant:       tenant,
		SQL:          sql,
		Error:        err,
		Context:      context,
		Duration:     duration,
	}
}
