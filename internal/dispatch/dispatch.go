// Package dispatch implements the Tool Dispatcher: a tagged-variant
// method table keyed by tool name (not reflection-driven dispatch, per
// §9 Design Notes). Each tool's raw JSON params are checked against a
// compiled JSON Schema for declared bounds/enums, decoded into a typed
// param struct, then re-checked with go-playground/validator struct
// tags before the matching Lifecycle/Query/Dependency operation runs.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/taskmesh/taskcore/internal/lifecycle"
	"github.com/taskmesh/taskcore/internal/observability"
	"github.com/taskmesh/taskcore/internal/query"
	"github.com/taskmesh/taskcore/internal/versionlog"
)

// handlerFunc executes one tool call against already schema-validated
// raw params, returning the value that becomes Response.Result.
type handlerFunc func(ctx context.Context, d *Dispatcher, raw json.RawMessage) (interface{}, error)

// Dispatcher routes tool calls to the Lifecycle Engine, Query Engine,
// Version Log, and the two out-of-core provider contracts.
type Dispatcher struct {
	life         *lifecycle.Engine
	query        *query.Engine
	versions     *versionlog.Log
	templates    TemplateProvider
	recurring    RecurringTaskProvider
	logger       observability.Logger
	validate     *validator.Validate
	methods      map[string]handlerFunc
	schemas      map[string]*compiledSchema
	staleTimeout time.Duration
}

// New builds a Dispatcher and registers every tool in the method table.
// templates/recurring may be nil, in which case NewInMemoryTemplateProvider
// and NewInMemoryRecurringTaskProvider back them. staleTimeout backs
// query_stale_tasks' default threshold (config.Config.StaleTimeout).
func New(life *lifecycle.Engine, q *query.Engine, versions *versionlog.Log, templates TemplateProvider, recurring RecurringTaskProvider, logger observability.Logger, staleTimeout time.Duration) *Dispatcher {
	if templates == nil {
		templates = NewInMemoryTemplateProvider()
	}
	if recurring == nil {
		recurring = NewInMemoryRecurringTaskProvider()
	}
	d := &Dispatcher{
		life: life, query: q, versions: versions,
		templates: templates, recurring: recurring,
		logger:       logger,
		validate:     validator.New(),
		methods:      make(map[string]handlerFunc),
		schemas:      make(map[string]*compiledSchema),
		staleTimeout: staleTimeout,
	}
	d.registerAll()
	return d
}

// registerAll wires every tool in the method table; New calls this once.
func (d *Dispatcher) registerAll() {
	d.registerLifecycle()
	d.registerQuery()
	d.registerTags()
	d.registerComments()
	d.registerProjects()
	d.registerVersions()
	d.registerTemplatesAndRecurring()
}

func (d *Dispatcher) register(name string, schema string, fn handlerFunc) {
	d.methods[name] = fn
	if schema != "" {
		d.schemas[name] = mustCompileSchema(name, schema)
	}
}

// Response is the envelope every tool call returns, success or failure.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the machine-readable error kind alongside a message,
// mirroring the closed errs.Kind taxonomy (§7).
type ErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Dispatch decodes method+params, validates, routes, and always returns a
// Response rather than a bare error — the JSON-RPC-style contract of §6.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) *Response {
	fn, ok := d.methods[method]
	if !ok {
		return errorResponse(errs.Validation("unknown tool %q", method))
	}
	if params == nil {
		params = json.RawMessage("{}")
	}
	if schema, ok := d.schemas[method]; ok {
		if err := schema.validate(params); err != nil {
			return errorResponse(err)
		}
	}
	result, err := fn(ctx, d, params)
	if err != nil {
		if d.logger != nil {
			d.logger.Error("tool call failed", observability.Fields{"method": method, "error": err})
		}
		return errorResponse(err)
	}
	return &Response{Success: true, Result: result}
}

func errorResponse(err error) *Response {
	return &Response{Success: false, Error: &ErrorBody{Kind: string(errs.KindOf(err)), Message: err.Error()}}
}

// decode unmarshals raw into a pointer target and runs struct-tag
// validation on it; callers pass an already schema-validated payload, so
// this layer catches the struct-level invariants gojsonschema's
// generic object shape cannot express (cross-field rules, custom tags).
func (d *Dispatcher) decode(raw json.RawMessage, target interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return errs.Validation("invalid params: %v", err)
	}
	if err := d.validate.Struct(target); err != nil {
		return errs.Validation("params failed validation: %v", err)
	}
	return nil
}
