package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/boddenberg/franchise-core-go/internal/domain"

	"github.com/xeipuuv/gojsonschema"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// Request body schemas. Field semantics are checked by the services; the
// schemas only reject malformed shapes early.
var (
	registerSchema = mustSchema(`{
		"type": "object",
		"required": ["full_name"],
		"properties": {
			"full_name": {"type": "string", "minLength": 1, "maxLength": 200},
			"phone":     {"type": ["string", "null"], "maxLength": 40},
			"region":    {"type": ["string", "null"], "maxLength": 100}
		},
		"additionalProperties": false
	}`)

	roleChangeSchema = mustSchema(`{
		"type": "object",
		"required": ["role"],
		"properties": {
			"role": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	statusChangeSchema = mustSchema(`{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status": {"type": "string", "minLength": 1}
		},
		"additionalProperties": false
	}`)

	decisionSchema = mustSchema(`{
		"type": "object",
		"required": ["status"],
		"properties": {
			"status":                    {"type": "string", "minLength": 1},
			"expected_status":           {"type": ["string", "null"]},
			"review_notes":              {"type": ["string", "null"], "maxLength": 4000},
			"hq_comments_for_applicant": {"type": ["string", "null"], "maxLength": 4000}
		},
		"additionalProperties": false
	}`)

	applicationFieldsSchema = mustSchema(`{
		"type": "object",
		"properties": {
			"contact_name":           {"type": "string", "maxLength": 200},
			"contact_phone":          {"type": "string", "maxLength": 40},
			"contact_email":          {"type": "string", "maxLength": 320},
			"intended_city":          {"type": "string", "maxLength": 200},
			"investment_amount":      {"type": ["string", "null"]},
			"experience_description": {"type": ["string", "null"], "maxLength": 8000}
		},
		"additionalProperties": false
	}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("handler: invalid schema: %v", err))
	}
	return s
}

// decodeJSON validates the request body against schema and decodes it into dst.
func decodeJSON(r *http.Request, schema *gojsonschema.Schema, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody+1))
	if err != nil {
		return &domain.ErrValidation{Field: "body", Message: "could not read request body"}
	}
	if len(body) > maxJSONBody {
		return &domain.ErrValidation{Field: "body", Message: "request body too large"}
	}
	return decodeJSONBytes(body, schema, dst)
}

func decodeJSONBytes(body []byte, schema *gojsonschema.Schema, dst any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return &domain.ErrValidation{Field: "body", Message: "request body is required"}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &domain.ErrValidation{Field: "body", Message: "request body is not valid JSON"}
	}
	if !result.Valid() {
		list := &domain.ErrValidationList{}
		for _, desc := range result.Errors() {
			list.Add(schemaField(desc), desc.Description())
		}
		return list
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// schemaField names the offending property of a schema error.
func schemaField(desc gojsonschema.ResultError) string {
	switch desc.Type() {
	case "required", "additional_property_not_allowed":
		if p, ok := desc.Details()["property"].(string); ok {
			return p
		}
	}
	if f := desc.Field(); f != "" && f != "(root)" {
		return f
	}
	return "body"
}
