package httpapi

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against JSON Schemas before decoding into
// typed structs, so malformed shapes are rejected with a clear message
// instead of silently zeroing fields.

const loginSchemaJSON = `{
	"type": "object",
	"required": ["username", "password"],
	"properties": {
		"username": {"type": "string", "minLength": 1},
		"password": {"type": "string", "minLength": 1}
	}
}`

const usersSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["username"],
		"properties": {
			"id": {"type": "string"},
			"name": {"type": "string"},
			"username": {"type": "string", "minLength": 1},
			"email": {"type": "string"},
			"role": {"type": "string"},
			"password": {"type": "string"},
			"avatar": {"type": "string"}
		}
	}
}`

const productionSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["date"],
		"properties": {
			"id": {"type": "string"},
			"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}"},
			"category": {"type": "string"},
			"process": {"type": "string"},
			"productName": {"type": "string"},
			"planQuantity": {"type": "integer", "minimum": 0},
			"actualQuantity": {"type": "integer", "minimum": 0},
			"unit": {"type": "string"},
			"batchNo": {"type": "string"},
			"manpower": {"type": "integer", "minimum": 0},
			"remark": {"type": "string"},
			"planRemark": {"type": "string"},
			"actualRemark": {"type": "string"},
			"status": {"type": "string"},
			"lastUpdatedBy": {"type": "string"},
			"updatedAt": {"type": "string"}
		}
	}
}`

const planSchemaJSON = `{
	"type": "object",
	"required": ["date", "productName"],
	"properties": {
		"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
		"category": {"type": "string"},
		"process": {"type": "string"},
		"productName": {"type": "string", "minLength": 1},
		"planQuantity": {"type": "integer", "minimum": 0},
		"unit": {"type": "string"},
		"batchNo": {"type": "string"},
		"manpower": {"type": "integer", "minimum": 0},
		"planRemark": {"type": "string"}
	}
}`

const actualSchemaJSON = `{
	"type": "object",
	"required": ["actualQuantity"],
	"properties": {
		"actualQuantity": {"type": "integer", "minimum": 0},
		"manpower": {"type": "integer", "minimum": 0},
		"actualRemark": {"type": "string"},
		"batchNo": {"type": "string"}
	}
}`

const offDaysSchemaJSON = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["date"],
		"properties": {
			"id": {"type": "string"},
			"date": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}$"},
			"description": {"type": "string"},
			"type": {"type": "string"},
			"createdBy": {"type": "string"}
		}
	}
}`

const logSchemaJSON = `{
	"type": "object",
	"required": ["action"],
	"properties": {
		"action": {"type": "string", "minLength": 1},
		"details": {"type": "string"}
	}
}`

type schemaSet struct {
	login      *jsonschema.Schema
	users      *jsonschema.Schema
	production *jsonschema.Schema
	plan       *jsonschema.Schema
	actual     *jsonschema.Schema
	offDays    *jsonschema.Schema
	logEntry   *jsonschema.Schema
}

// apiSchemas is compiled once at init; the sources are constants, so a
// compile failure is a programming error.
var apiSchemas = mustCompileSchemas()

func mustCompileSchemas() *schemaSet {
	sources := map[string]string{
		"login.json":      loginSchemaJSON,
		"users.json":      usersSchemaJSON,
		"production.json": productionSchemaJSON,
		"plan.json":       planSchemaJSON,
		"actual.json":     actualSchemaJSON,
		"offdays.json":    offDaysSchemaJSON,
		"log.json":        logSchemaJSON,
	}
	compiler := jsonschema.NewCompiler()
	for name, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(src)))
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name, doc); err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
	}
	return &schemaSet{
		login:      compiler.MustCompile("login.json"),
		users:      compiler.MustCompile("users.json"),
		production: compiler.MustCompile("production.json"),
		plan:       compiler.MustCompile("plan.json"),
		actual:     compiler.MustCompile("actual.json"),
		offDays:    compiler.MustCompile("offdays.json"),
		logEntry:   compiler.MustCompile("log.json"),
	}
}

// validateBody checks a raw request body against one of the compiled
// schemas, returning a validation error suitable for a 400 response.
func validateBody(schema *jsonschema.Schema, body []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return err
	}
	return schema.Validate(instance)
}
