package expand

import (
	"context"
	"fmt"
	"net/http"
)

// Request carries the expansion call context handed to argument builders
// and expander methods.
type Request struct {
	// Parent is the resource being expanded.
	Parent map[string]any

	// HTTP is the originating request, when expansion runs inside an HTTP
	// handler.
	HTTP *http.Request
}

// Method is one expander method: it computes the value of a single
// expandable field.
type Method struct {
	// Name identifies the method inside its expander or container.
	Name string

	// Target optionally names the DTO produced by this method; when set
	// and the expansion tree nests under the field, expansion recurses
	// into the result with the target's expander.
	Target string

	// Fn computes the field value. args are resolved per the field's
	// parameter configuration.
	Fn func(ctx context.Context, req *Request, args []any) (any, error)
}

// FieldLink binds an expandable field to a method on a reusable container.
// Links take precedence over same-named expander methods.
type FieldLink struct {
	// Container names the reusable method container.
	Container string

	// Method names the method inside the container.
	Method string

	// Params lists parent property paths resolved into arguments.
	// Ignored when ArgsFunc is set.
	Params []string

	// ArgsFunc computes the arguments from the parent and request.
	ArgsFunc func(parent map[string]any, r *http.Request) []any
}

// Expander computes the expandable fields of one DTO.
type Expander struct {
	// DTO names the resource type this expander serves.
	DTO string

	// Methods maps field names to their expander methods.
	Methods map[string]Method

	// Links maps field names to reusable-container methods.
	Links map[string]FieldLink
}

// Registry holds expanders and reusable method containers, collected at
// startup and read-only afterwards.
type Registry struct {
	expanders  map[string]*Expander
	containers map[string]map[string]Method
	expandable []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		expanders:  make(map[string]*Expander),
		containers: make(map[string]map[string]Method),
	}
}

// RegisterExpander adds an expander for its DTO. Registering a second
// expander for the same DTO merges field methods and links, last write
// winning per field.
func (r *Registry) RegisterExpander(e *Expander) {
	existing, ok := r.expanders[e.DTO]
	if !ok {
		if e.Methods == nil {
			e.Methods = make(map[string]Method)
		}
		if e.Links == nil {
			e.Links = make(map[string]FieldLink)
		}
		r.expanders[e.DTO] = e
		return
	}
	for field, m := range e.Methods {
		existing.Methods[field] = m
	}
	for field, l := range e.Links {
		existing.Links[field] = l
	}
}

// RegisterContainer adds a reusable method container callable from field
// links of any expander.
func (r *Registry) RegisterContainer(name string, methods ...Method) {
	container, ok := r.containers[name]
	if !ok {
		container = make(map[string]Method)
		r.containers[name] = container
	}
	for _, m := range methods {
		container[m.Name] = m
	}
}

// MarkExpandable declares that a DTO is expandable. Validate verifies every
// marked DTO has an expander.
func (r *Registry) MarkExpandable(dto string) {
	r.expandable = append(r.expandable, dto)
}

// Validate checks the registry wiring: every expandable DTO has an
// expander, and every field link references an existing container method.
// Call once at startup; failures are configuration errors.
func (r *Registry) Validate() error {
	for _, dto := range r.expandable {
		if _, ok := r.expanders[dto]; !ok {
			return fmt.Errorf("expandable DTO %q has no registered expander", dto)
		}
	}

	for dto, e := range r.expanders {
		for field, link := range e.Links {
			container, ok := r.containers[link.Container]
			if !ok {
				return fmt.Errorf("expander %q field %q links to unknown container %q",
					dto, field, link.Container)
			}
			if _, ok := container[link.Method]; !ok {
				return fmt.Errorf("expander %q field %q links to unknown method %q.%s",
					dto, field, link.Container, link.Method)
			}
		}
	}
	return nil
}

// resolve returns the method serving a field of a DTO, with reusable links
// taking precedence over expander methods, plus the field's link (when any)
// for argument resolution.
func (r *Registry) resolve(dto, field string) (Method, *FieldLink, bool) {
	e, ok := r.expanders[dto]
	if !ok {
		return Method{}, nil, false
	}
	if link, ok := e.Links[field]; ok {
		if container, ok := r.containers[link.Container]; ok {
			if m, ok := container[link.Method]; ok {
				return m, &link, true
			}
		}
		return Method{}, nil, false
	}
	m, ok := e.Methods[field]
	return m, nil, ok
}
