package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"khidma/internal/domain"
)

// ErrUnknownTool is the only hard failure the dispatcher produces. Everything
// domain-level (no vehicle on file, no outstanding violations) is surfaced as
// a result with an explanatory message so the caller always has something to
// display or narrate.
var ErrUnknownTool = errors.New("unknown tool")

// FreeFee is the advertised-fee sentinel for services without a payment step.
const FreeFee = "free"

// Field types understood by the step workflow controller.
const (
	FieldText      = "text"
	FieldDate      = "date"
	FieldSelect    = "select"
	FieldImage     = "image"
	FieldDocument  = "document"
	FieldViolation = "violation"
	FieldVoice     = "voice_text"
)

type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Type     string   `json:"type" enum:"text,date,select,image,document,violation,voice_text"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// Definition binds a tool name to its argument contract, fee formula and handler.
type Definition struct {
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	FeeLabel    string  `json:"fee_label"`
	Fields      []Field `json:"fields,omitempty"`

	fee     func(args map[string]any) float64
	handler handlerFunc
}

// Fee evaluates the table-driven fee formula for the given arguments.
func (d Definition) Fee(args map[string]any) float64 {
	if d.fee == nil {
		return 0
	}
	return d.fee(args)
}

type handlerFunc func(ctx context.Context, req request) (domain.ToolResult, error)

type request struct {
	CallerID string
	Args     map[string]any
	Fee      float64
	Store    Store
	Now      time.Time
	Catalog  []Definition
}

// Store is the read (and narrowly scoped write) access handlers have to the
// caller's civic records and the knowledge base.
type Store interface {
	ListViolations(ctx context.Context, userID, status string) ([]domain.Violation, error)
	GetViolation(ctx context.Context, id string) (domain.Violation, error)
	MarkViolationPaid(ctx context.Context, id string) error
	ListVehicles(ctx context.Context, userID string) ([]domain.Vehicle, error)
	ListWorkers(ctx context.Context, sponsorID string) ([]domain.Worker, error)
	GetDocument(ctx context.Context, userID, kind string) (domain.IdentityDocument, error)
	UpdateDocumentValidity(ctx context.Context, id, validUntil string) error
	SearchArticles(ctx context.Context, query string, limit int) ([]domain.Article, error)
}

// Registry is the single source of truth for the fixed set of invocable tools.
type Registry struct {
	defs  map[string]Definition
	order []string
	store Store
	Now   func() time.Time
}

// New builds a registry with the builtin service catalog registered.
func New(store Store) *Registry {
	r := &Registry{
		defs:  map[string]Definition{},
		store: store,
		Now:   time.Now,
	}
	for _, d := range catalog() {
		r.register(d)
	}
	return r
}

func (r *Registry) register(d Definition) {
	if _, exists := r.defs[d.Name]; exists {
		panic(fmt.Sprintf("tools: duplicate registration of %s", d.Name))
	}
	r.defs[d.Name] = d
	r.order = append(r.order, d.Name)
}

// Get returns a tool definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	d, ok := r.defs[name]
	return d, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	res := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		res = append(res, r.defs[name])
	}
	return res
}

// Execute dispatches a tool call. Missing optional arguments degrade to
// explicit defaults inside the handler; the returned result always carries a
// valid status. The only error path besides storage faults is ErrUnknownTool.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, callerID string) (domain.ToolResult, error) {
	d, ok := r.defs[name]
	if !ok {
		return domain.ToolResult{
			Status:  domain.ResultError,
			Message: fmt.Sprintf("service %q is not available", name),
		}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	req := request{
		CallerID: callerID,
		Args:     args,
		Fee:      d.Fee(args),
		Store:    r.store,
		Now:      r.Now().UTC(),
		Catalog:  r.List(),
	}
	res, err := d.handler(ctx, req)
	if err != nil {
		return domain.ToolResult{}, fmt.Errorf("execute %s: %w", name, err)
	}
	return res, nil
}
