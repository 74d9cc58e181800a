package dispatch

import (
	"encoding/json"
	"strings"

	"github.com/taskmesh/taskcore/internal/errs"
	"github.com/xeipuuv/gojsonschema"
)

// compiledSchema wraps a pre-compiled gojsonschema.Schema so Dispatch
// never pays JSON-schema parsing cost per call.
type compiledSchema struct {
	name   string
	schema *gojsonschema.Schema
}

func mustCompileSchema(name, raw string) *compiledSchema {
	loader := gojsonschema.NewStringLoader(raw)
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic("dispatch: invalid schema for " + name + ": " + err.Error())
	}
	return &compiledSchema{name: name, schema: s}
}

func (c *compiledSchema) validate(raw json.RawMessage) error {
	result, err := c.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return errs.Validation("%s: malformed params: %v", c.name, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errs.Validation("%s: %s", c.name, strings.Join(msgs, "; "))
	}
	return nil
}

// Schemas below declare only the bounds/enums/required-ness a tool's raw
// JSON params must satisfy; the decoded Go struct's `validate` tags (see
// params.go) cover anything JSON Schema expresses awkwardly.

const schemaCreateTask = `{
  "type": "object",
  "properties": {
    "title": {"type": "string", "minLength": 3, "maxLength": 100},
    "task_type": {"type": "string", "enum": ["concrete", "abstract", "epic"]},
    "task_instruction": {"type": "string", "minLength": 10},
    "verification_instruction": {"type": "string", "minLength": 10},
    "agent_id": {"type": "string", "minLength": 1},
    "project_id": {"type": ["integer", "null"]},
    "parent_task_id": {"type": ["integer", "null"]},
    "relationship_type": {"type": ["string", "null"], "enum": ["subtask", "blocking", "blocked_by", "followup", "related", null]},
    "priority": {"type": "string", "enum": ["low", "medium", "high", "critical", ""]},
    "notes": {"type": "string"},
    "estimated_hours": {"type": ["number", "null"], "minimum": 0.1},
    "due_date": {"type": ["string", "null"]},
    "idempotency_key": {"type": ["string", "null"]}
  },
  "required": ["title", "task_type", "task_instruction", "verification_instruction", "agent_id"]
}`

const schemaReserveTask = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1}
  },
  "required": ["task_id", "agent_id"]
}`

const schemaCompleteTask = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1},
    "notes": {"type": "string"},
    "actual_hours": {"type": ["number", "null"], "minimum": 0.1},
    "followup": {
      "type": ["object", "null"],
      "properties": {
        "title": {"type": "string", "minLength": 3, "maxLength": 100},
        "task_type": {"type": "string", "enum": ["concrete", "abstract", "epic"]},
        "task_instruction": {"type": "string", "minLength": 10},
        "verification_instruction": {"type": "string", "minLength": 10}
      }
    }
  },
  "required": ["task_id", "agent_id"]
}`

const schemaUnlockTask = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1}
  },
  "required": ["task_id", "agent_id"]
}`

const schemaVerifyTask = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1},
    "notes": {"type": "string"}
  },
  "required": ["task_id", "agent_id"]
}`

const schemaBulkUnlock = `{
  "type": "object",
  "properties": {
    "task_ids": {"type": "array", "items": {"type": "integer"}, "minItems": 1},
    "agent_id": {"type": "string", "minLength": 1}
  },
  "required": ["task_ids", "agent_id"]
}`

const schemaAddUpdate = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1},
    "content": {"type": "string", "minLength": 1},
    "update_type": {"type": "string", "enum": ["progress", "note", "blocker", "question", "finding"]},
    "metadata": {"type": ["object", "null"]}
  },
  "required": ["task_id", "agent_id", "content", "update_type"]
}`

const schemaCreateRelationship = `{
  "type": "object",
  "properties": {
    "parent_task_id": {"type": "integer"},
    "child_task_id": {"type": "integer"},
    "relationship_type": {"type": "string", "enum": ["subtask", "blocking", "blocked_by", "followup", "related"]},
    "agent_id": {"type": "string", "minLength": 1}
  },
  "required": ["parent_task_id", "child_task_id", "relationship_type", "agent_id"]
}`

const schemaListAvailable = `{
  "type": "object",
  "properties": {
    "agent_type": {"type": "string", "enum": ["implementation", "breakdown"]},
    "project_id": {"type": ["integer", "null"]},
    "limit": {"type": "integer", "minimum": 0, "maximum": 1000}
  },
  "required": ["agent_type"]
}`

const schemaTaskIDOnly = `{
  "type": "object",
  "properties": {"task_id": {"type": "integer"}},
  "required": ["task_id"]
}`

const schemaGithubLink = `{
  "type": "object",
  "properties": {
    "task_id": {"type": "integer"},
    "agent_id": {"type": "string", "minLength": 1},
    "url": {"type": "string", "minLength": 1}
  },
  "required": ["task_id", "agent_id", "url"]
}`
