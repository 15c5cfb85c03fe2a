package tool

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	kjsonschema "github.com/kaptinlin/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"reagent/internal/domain"
)

// Timeout bounds for registered tools.
const (
	DefaultTimeout = 5 * time.Minute
	MaxTimeout     = 30 * time.Minute
)

// entry is a registered tool with everything precompiled from its definition.
type entry struct {
	tool         domain.Tool
	def          domain.ToolDefinition
	timeout      time.Duration
	patterns     map[string]*regexp.Regexp
	paramSchema  *jsonschema.Schema
	resultSchema *kjsonschema.Schema
}

// Registry holds named tools.
type Registry struct {
	mu             sync.RWMutex
	entries        map[string]*entry
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithDefaultTimeout overrides DefaultTimeout for tools registered without one.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.defaultTimeout = d
		}
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		entries:        make(map[string]*entry),
		defaultTimeout: DefaultTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterTool adds or replaces a tool. The optional timeout defaults to the
// registry default and is capped at MaxTimeout. A nil tool panics.
func (r *Registry) RegisterTool(t domain.Tool, timeout ...time.Duration) error {
	if t == nil {
		panic("tool: RegisterTool called with nil tool")
	}

	def := t.Definition()
	if def.Name == "" {
		def.Name = t.Name()
	}
	if def.Name == "" {
		return domain.NewDomainError("Registry.RegisterTool", domain.ErrInvalidInput, "tool name is empty")
	}

	d := r.defaultTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		d = timeout[0]
	}
	if d > MaxTimeout {
		r.logger.Warn("tool timeout capped", "tool", def.Name, "requested", d, "max", MaxTimeout)
		d = MaxTimeout
	}

	e := &entry{tool: t, def: def, timeout: d, patterns: make(map[string]*regexp.Regexp)}
	for name, p := range def.Parameters {
		if p.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return domain.NewDomainError("Registry.RegisterTool", domain.ErrInvalidInput,
				fmt.Sprintf("tool %q parameter %q pattern: %v", def.Name, name, err))
		}
		e.patterns[name] = re
	}

	schema, err := compileParameterSchema(def)
	if err != nil {
		// Validation still runs field by field; only the whole-object check is lost.
		r.logger.Warn("schema validation disabled for tool", "tool", def.Name, "error", err)
	}
	e.paramSchema = schema

	if len(def.ResultSchema) > 0 {
		rs, err := kjsonschema.NewCompiler().Compile(def.ResultSchema)
		if err != nil {
			return domain.NewDomainError("Registry.RegisterTool", domain.ErrInvalidInput,
				fmt.Sprintf("tool %q result schema: %v", def.Name, err))
		}
		e.resultSchema = rs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		r.logger.Info("tool re-registered", "tool", def.Name)
	}
	r.entries[def.Name] = e
	return nil
}

// Unregister removes a tool. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	return e.tool, nil
}

// Timeout returns the execution deadline of a registered tool.
func (r *Registry) Timeout(name string) (time.Duration, error) {
	e, err := r.lookup(name)
	if err != nil {
		return 0, err
	}
	return e.timeout, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return e, nil
}

// AvailableTools returns all tool definitions sorted by name.
func (r *Registry) AvailableTools() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Schemas returns all tool schemas for LLM function-calling, sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	defs := r.AvailableTools()
	schemas := make([]domain.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, domain.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  ParametersSchema(def),
		})
	}
	return schemas
}
