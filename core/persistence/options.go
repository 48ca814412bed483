package persistence

import (
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/linq/parsing"
	"github.com/asaidimu/go-marten/core/schema"
	"go.uber.org/zap"
)

// StoreOptions provides configuration for a document store.
type StoreOptions struct {
	// SchemaName is the database schema document tables live in.
	SchemaName string

	// TablePrefix is prepended to each document alias to name its table.
	TablePrefix string

	// DefaultRegConfig is the text search configuration used by Search and its
	// variants when the query does not name one.
	DefaultRegConfig string

	// Serializer renders parameter values and decodes stored documents. Its enum
	// storage and casing decide how members are located in the JSON.
	Serializer schema.Serializer

	// Executor runs translated commands. Without one, queries can be translated
	// but not executed.
	Executor linq.Executor

	// Methods are additional method parsers, tried before the built-in ones.
	Methods []parsing.MethodParser

	Logger *zap.Logger
}

// DefaultStoreOptions returns the options of a store using the public schema and
// the mt_doc_ table prefix.
func DefaultStoreOptions() StoreOptions {
	m := schema.DefaultMappingOptions()
	return StoreOptions{
		SchemaName:       m.DatabaseSchema,
		TablePrefix:      m.TablePrefix,
		DefaultRegConfig: m.DefaultRegConfig,
		Serializer:       m.Serializer,
		Logger:           zap.NewNop(),
	}
}

func (o StoreOptions) mappingOptions() schema.MappingOptions {
	m := schema.DefaultMappingOptions()
	if o.SchemaName != "" {
		m.DatabaseSchema = o.SchemaName
	}
	if o.TablePrefix != "" {
		m.TablePrefix = o.TablePrefix
	}
	if o.DefaultRegConfig != "" {
		m.DefaultRegConfig = o.DefaultRegConfig
	}
	if o.Serializer != nil {
		m.Serializer = o.Serializer
	}
	return m
}
