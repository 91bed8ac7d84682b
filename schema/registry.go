package schema

import "sync"

// Registry maps event types to their registered JSON Schemas. Types without
// a registered schema always pass intake; the registry never constrains the
// type vocabulary itself.
type Registry struct {
	mu        sync.RWMutex
	schemas   map[string]any
	validator *Validator
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		schemas:   make(map[string]any),
		validator: NewValidator(),
	}
}

// Register attaches a JSON Schema to an event type. Re-registering a type
// replaces its schema; a nil schema removes it.
func (r *Registry) Register(eventType string, schema any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if schema == nil {
		delete(r.schemas, eventType)
		return
	}
	r.schemas[eventType] = schema
}

// ValidatePayload validates data against the schema registered for the
// event type, if any. Unregistered types always pass.
func (r *Registry) ValidatePayload(eventType string, data any) error {
	r.mu.RLock()
	schema, ok := r.schemas[eventType]
	r.mu.RUnlock()

	if !ok {
		return nil
	}
	return r.validator.Validate(schema, data)
}
