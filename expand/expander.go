package expand

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// ErrorPolicy controls what happens when expanding a path fails.
type ErrorPolicy string

const (
	// PolicyIgnore drops the failed field and records the error.
	PolicyIgnore ErrorPolicy = "ignore"

	// PolicyInclude drops the failed field and attaches the recorded
	// errors to the response under ErrorsKey.
	PolicyInclude ErrorPolicy = "include"

	// PolicyThrow propagates the first expansion error to the caller.
	PolicyThrow ErrorPolicy = "throw"
)

// ErrorsKey is the response field carrying expansion errors under
// PolicyInclude.
const ErrorsKey = "_expansionErrors"

// Error describes one failed expansion path.
type Error struct {
	Message string `json:"message"`
	Path    string `json:"path"`
}

// Options configures one expansion run.
type Options struct {
	// DTO names the resource type of the (root) resource.
	DTO string

	// RootField, when set, locates the resource under this field of the
	// response envelope instead of at the top level.
	RootField string

	// Policy selects the error behavior; default PolicyIgnore.
	Policy ErrorPolicy

	// Request is the originating HTTP request, forwarded to argument
	// builders and expander methods.
	Request *http.Request
}

// Result is the outcome of one expansion run.
type Result struct {
	// Resource is the expanded resource (or envelope, when RootField is
	// set).
	Resource any

	// Errors maps "<DTO>.<path>[<index>?]" to the recorded expansion
	// errors under PolicyIgnore and PolicyInclude. Under PolicyThrow the
	// first error is returned instead and nothing is recorded.
	Errors map[string]*Error
}

// Expand populates the requested sub-resources of a resource according to
// the expansion tree. The resource must be JSON-shaped (maps, slices,
// scalars — see Normalize); struct inputs should be normalized first.
//
// Arrays are expanded element-wise. Under PolicyThrow the first error
// aborts; otherwise failed paths are dropped and recorded, and under
// PolicyInclude additionally attached to the resource (per item for
// collections).
func (r *Registry) Expand(ctx context.Context, resource any, tree *Tree, opts Options) (Result, error) {
	res := Result{Resource: resource, Errors: make(map[string]*Error)}
	if tree.IsEmpty() {
		return res, nil
	}
	if opts.Policy == "" {
		opts.Policy = PolicyIgnore
	}

	target := resource
	envelope, hasEnvelope := resource.(map[string]any)
	if opts.RootField != "" && hasEnvelope {
		target = envelope[opts.RootField]
	}

	expanded, err := r.expandValue(ctx, target, tree, opts.DTO, opts.DTO, opts, res.Errors)
	if err != nil {
		return res, err
	}

	if opts.Policy == PolicyInclude {
		if obj, ok := expanded.(map[string]any); ok && len(res.Errors) > 0 {
			obj[ErrorsKey] = res.Errors
		}
	}

	if opts.RootField != "" && hasEnvelope {
		wrapped := make(map[string]any, len(envelope))
		for k, v := range envelope {
			wrapped[k] = v
		}
		wrapped[opts.RootField] = expanded
		res.Resource = wrapped
		return res, nil
	}

	res.Resource = expanded
	return res, nil
}

// expandValue expands a single object or maps over a collection with
// per-element paths.
func (r *Registry) expandValue(ctx context.Context, value any, tree *Tree, dto, path string, opts Options, errs map[string]*Error) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		return r.expandObject(ctx, v, tree, dto, path, opts, errs)

	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]any)
			if !ok {
				out[i] = item
				continue
			}
			expanded, err := r.expandObject(ctx, obj, tree, dto, fmt.Sprintf("%s[%d]", path, i), opts, errs)
			if err != nil {
				return nil, err
			}
			if opts.Policy == PolicyInclude {
				attachItemErrors(expanded, errs, fmt.Sprintf("%s[%d]", path, i))
			}
			out[i] = expanded
		}
		return out, nil

	default:
		return value, nil
	}
}

// expandObject expands one object: for each enabled tree key in insertion
// order, resolve the field's method, build its arguments, invoke it and set
// the result on a shallow copy of the parent, recursing into nested
// expandable targets.
func (r *Registry) expandObject(ctx context.Context, parent map[string]any, tree *Tree, dto, path string, opts Options, errs map[string]*Error) (map[string]any, error) {
	expanded := make(map[string]any, len(parent)+len(tree.Keys()))
	for k, v := range parent {
		expanded[k] = v
	}

	for _, field := range tree.Keys() {
		if field == Wildcard || !tree.Enabled(field) {
			continue
		}

		fieldPath := path + "." + field

		method, link, ok := r.resolve(dto, field)
		if !ok {
			if err := r.fail(fieldPath, fmt.Errorf("no expander method for %q on %q", field, dto), opts, errs); err != nil {
				return nil, err
			}
			continue
		}

		args := resolveArgs(link, parent, opts.Request)
		value, err := method.Fn(ctx, &Request{Parent: parent, HTTP: opts.Request}, args)
		if err != nil {
			if err := r.fail(fieldPath, err, opts, errs); err != nil {
				return nil, err
			}
			continue
		}

		if sub := tree.Sub(field); !sub.IsEmpty() && method.Target != "" {
			value, err = r.expandValue(ctx, value, sub, method.Target, fieldPath, opts, errs)
			if err != nil {
				return nil, err
			}
		}

		expanded[field] = value
	}

	return expanded, nil
}

// fail records or propagates one path error per the policy.
func (r *Registry) fail(path string, err error, opts Options, errs map[string]*Error) error {
	if opts.Policy == PolicyThrow {
		return fmt.Errorf("expansion of %s failed: %w", path, err)
	}
	errs[path] = &Error{Message: err.Error(), Path: path}
	return nil
}

// resolveArgs builds a method's argument list from its field link: the
// configured function when present, otherwise the parent values at the
// linked property paths. Fields without a link receive no arguments.
func resolveArgs(link *FieldLink, parent map[string]any, req *http.Request) []any {
	if link == nil {
		return nil
	}
	if link.ArgsFunc != nil {
		return link.ArgsFunc(parent, req)
	}
	args := make([]any, len(link.Params))
	for i, paramPath := range link.Params {
		args[i] = lookupPath(parent, paramPath)
	}
	return args
}

// lookupPath resolves a dotted property path inside a JSON-shaped map.
func lookupPath(obj map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var current any = obj
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

// attachItemErrors attaches the errors recorded under one collection item's
// path prefix to that item.
func attachItemErrors(item map[string]any, errs map[string]*Error, prefix string) {
	var itemErrs map[string]*Error
	for path, e := range errs {
		if strings.HasPrefix(path, prefix+".") {
			if itemErrs == nil {
				itemErrs = make(map[string]*Error)
			}
			itemErrs[path] = e
		}
	}
	if itemErrs != nil {
		item[ErrorsKey] = itemErrs
	}
}
