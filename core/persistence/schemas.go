package persistence

import "encoding/json"

// SchemaRecord describes one registered document type.
type SchemaRecord struct {
	Name          string          `json:"name,omitempty"` // Name of the document schema, when one was given.
	Type          string          `json:"type"`           // The Go document type.
	Table         string          `json:"table"`          // Qualified table the documents are stored in.
	IdMember      string          `json:"idMember"`
	SoftDeleted   bool            `json:"softDeleted"`
	MultiTenanted bool            `json:"multiTenanted"`
	Schema        json.RawMessage `json:"schema,omitempty"` // The document schema as registered.
}
