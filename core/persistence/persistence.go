// Package persistence provides the document store: the registry of document
// mappings, the compiled-query plan cache and the event bus every session of the
// store shares.
package persistence

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-marten/core/linq"
	"github.com/asaidimu/go-marten/core/member"
	"github.com/asaidimu/go-marten/core/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentStore holds the configuration shared by all sessions. Document types
// are registered when the store is set up; sessions only read the mappings.
type DocumentStore struct {
	opts          StoreOptions
	registry      *schema.Registry
	catalog       *member.Catalog
	plans         *linq.PlanCache
	logger        *zap.Logger
	definitions   map[reflect.Type]*schema.DocumentSchema
	defMu         sync.RWMutex
	subscriptions map[string]*SubscriptionInfo // To store unsubscribe functions
	subMu         sync.RWMutex                 // Mutex to protect subscriptions map
	bus           *events.TypedEventBus[QueryEvent]
}

// NewDocumentStore creates a store. Zero fields of opts take their defaults.
func NewDocumentStore(opts StoreOptions) (*DocumentStore, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	mopts := opts.mappingOptions()
	if !schema.ValidRegConfig(mopts.DefaultRegConfig) {
		return nil, fmt.Errorf("invalid default text search configuration %q", mopts.DefaultRegConfig)
	}

	bus, err := events.NewTypedEventBus[QueryEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	registry := schema.NewRegistry(mopts)
	return &DocumentStore{
		opts:          opts,
		registry:      registry,
		catalog:       member.NewCatalog(registry),
		plans:         linq.NewPlanCache(opts.Logger),
		logger:        opts.Logger,
		definitions:   make(map[reflect.Type]*schema.DocumentSchema),
		subscriptions: make(map[string]*SubscriptionInfo),
		bus:           bus,
	}, nil
}

// Options returns the store's options.
func (s *DocumentStore) Options() StoreOptions { return s.opts }

// Plans returns the compiled-query plan cache shared by the store's sessions.
func (s *DocumentStore) Plans() *linq.PlanCache { return s.plans }

// Mapping returns the mapping of a document type, building a conventional one
// when the type was never registered.
func (s *DocumentStore) Mapping(t reflect.Type) (*schema.DocumentMapping, error) {
	return s.registry.MappingFor(t)
}

func (s *DocumentStore) register(t reflect.Type, def *schema.DocumentSchema) (*schema.DocumentMapping, error) {
	m, err := s.registry.Register(t, def)
	if err != nil {
		s.logger.Warn("Failed to register document type", zap.String("type", t.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to register %s: %w", t, err)
	}
	if def != nil {
		s.defMu.Lock()
		s.definitions[m.DocType] = def
		s.defMu.Unlock()
	}
	s.logger.Info("Registered document type",
		zap.String("type", t.String()),
		zap.String("table", m.TableName()),
		zap.Bool("softDeleted", m.SoftDeleted),
		zap.Bool("multiTenanted", m.MultiTenanted))

	name := t.String()
	s.emitEvent(createEvent(DocumentRegistered, "register", &name, nil, nil, nil, map[string]any{
		"table": m.TableName(),
	}, time.Time{}))
	return m, nil
}

// Register configures document type T with def, which may be nil to use naming
// conventions only.
func Register[T any](s *DocumentStore, def *schema.DocumentSchema) (*schema.DocumentMapping, error) {
	return s.register(reflect.TypeFor[T](), def)
}

// RegisterJSON configures document type T with a JSON document schema.
func RegisterJSON[T any](s *DocumentStore, data []byte) (*schema.DocumentMapping, error) {
	def, err := schema.ParseDocumentSchema(data)
	if err != nil {
		return nil, err
	}
	return Register[T](s, def)
}

// Schemas describes every document type the store knows about.
func (s *DocumentStore) Schemas() ([]SchemaRecord, error) {
	s.defMu.RLock()
	defer s.defMu.RUnlock()

	mappings := s.registry.All()
	records := make([]SchemaRecord, 0, len(mappings))
	for _, m := range mappings {
		record := SchemaRecord{
			Type:          m.DocType.String(),
			Table:         m.TableName(),
			IdMember:      m.IdMember,
			SoftDeleted:   m.SoftDeleted,
			MultiTenanted: m.MultiTenanted,
		}
		if def, ok := s.definitions[m.DocType]; ok {
			raw, err := json.Marshal(def)
			if err != nil {
				return nil, fmt.Errorf("error marshaling schema of %s: %w", m.DocType, err)
			}
			record.Name = def.Name
			record.Schema = raw
		}
		records = append(records, record)
	}
	return records, nil
}

// RegisterSubscription registers a callback for a store event. It returns a
// unique ID that can be used to unregister the subscription later.
func (s *DocumentStore) RegisterSubscription(options RegisterSubscriptionOptions) string {
	s.subMu.Lock()
	unsubscribe := s.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	s.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	s.subMu.Unlock()

	s.logger.Debug("Registered subscription", zap.String("id", id), zap.String("event", string(options.Event)))
	s.emitEvent(createEvent(SubscriptionRegister, "register_subscription", nil, nil, nil, nil, map[string]any{
		"subscriptionId": id,
		"event":          options.Event,
	}, time.Time{}))
	return id
}

// UnregisterSubscription removes a subscription by its ID.
func (s *DocumentStore) UnregisterSubscription(id string) {
	s.subMu.Lock()
	info, ok := s.subscriptions[id]
	if ok {
		info.Unsubscribe()
		delete(s.subscriptions, id)
	}
	s.subMu.Unlock()

	if ok {
		s.emitEvent(createEvent(SubscriptionUnregister, "unregister_subscription", nil, nil, nil, nil, map[string]any{
			"subscriptionId": id,
		}, time.Time{}))
	}
}

// Subscriptions returns a list of all currently active subscriptions.
func (s *DocumentStore) Subscriptions() ([]SubscriptionInfo, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, *sub)
	}
	return subs, nil
}
