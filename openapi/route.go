package openapi

import (
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

type Route struct {
	doc    *Document
	method string
	path   string
	op     *openapi3.Operation
}

func (r *Route) pathParams() {
	for _, part := range strings.Split(r.path, "/") {
		if !strings.HasPrefix(part, ":") {
			continue
		}
		r.op.Parameters = append(r.op.Parameters, &openapi3.ParameterRef{
			Value: &openapi3.Parameter{
				Name:     part[1:],
				In:       openapi3.ParameterInPath,
				Required: true,
				Schema:   &openapi3.SchemaRef{Value: openapi3.NewStringSchema()},
			},
		})
	}
}

func (r *Route) Summary(summary string) *Route {
	r.op.Summary = summary
	return r
}

func (r *Route) Tags(tags ...string) *Route {
	r.op.Tags = append(r.op.Tags, tags...)
	return r
}

// Body documents the JSON request body from an example value of the type
// the handler binds.
func (r *Route) Body(example any) *Route {
	r.op.RequestBody = &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Required: true,
			Content:  openapi3.NewContentWithJSONSchema(SchemaOf(example)),
		},
	}
	return r
}

// Response documents a status answered with the standard envelope. data is
// an example of the envelope's data field and may be nil.
func (r *Route) Response(status int, description string, data any) *Route {
	r.op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content:     openapi3.NewContentWithJSONSchema(envelope(data)),
		},
	})
	return r
}

// Errors documents failure statuses that carry an error kind.
func (r *Route) Errors(statuses ...int) *Route {
	for _, status := range statuses {
		desc := "Error; see kind"
		r.op.Responses.Set(strconv.Itoa(status), &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &desc,
				Content:     openapi3.NewContentWithJSONSchema(envelope(nil)),
			},
		})
	}
	return r
}

func (r *Route) Secured(scheme string) *Route {
	r.op.Security = &openapi3.SecurityRequirements{
		openapi3.SecurityRequirement{scheme: []string{}},
	}
	return r
}

func (r *Route) Add() {
	r.doc.add(r.method, r.path, r.op)
}

func envelope(data any) *openapi3.Schema {
	s := openapi3.NewObjectSchema().
		WithProperty("success", openapi3.NewBoolSchema()).
		WithProperty("message", openapi3.NewStringSchema()).
		WithProperty("kind", openapi3.NewStringSchema()).
		WithProperty("details", openapi3.NewObjectSchema()).
		WithProperty("errors", openapi3.NewObjectSchema().WithAdditionalProperties(openapi3.NewStringSchema()))
	s.Required = []string{"success", "message"}
	if data != nil {
		s.WithProperty("data", SchemaOf(data))
	}
	return s
}
