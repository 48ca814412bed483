package persistence

import (
	"time"

	"github.com/asaidimu/go-marten/core/linq"
)

// emitEvent is a helper method to emit events
func (s *DocumentStore) emitEvent(event QueryEvent) {
	if s.bus != nil {
		s.bus.Emit(string(event.Type), event)
	}
}

// observe forwards a session's query lifecycle to the store's event bus.
func (s *DocumentStore) observe(tenant string) linq.Observer {
	var tenantPtr *string
	if tenant != "" {
		tenantPtr = &tenant
	}
	return func(e linq.Event) {
		var docType *string
		if e.DocType != nil {
			name := e.DocType.String()
			docType = &name
		}
		var errStr *string
		if e.Error != nil {
			msg := e.Error.Error()
			errStr = &msg
		}
		// Lifecycle events carry a measured duration rather than a start time.
		event := createEvent(QueryEventType(e.Kind), e.Operator, docType, tenantPtr, e.SQL, errStr, nil, time.Time{})
		if e.Duration > 0 {
			d := e.Duration.Milliseconds()
			event.Duration = &d
		}
		s.emitEvent(event)
	}
}
