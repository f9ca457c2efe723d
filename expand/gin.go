package expand

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Query parameter names recognized by the gin helpers.
const (
	expandsParam = "expands"
	selectsParam = "selects"
)

// Normalize converts an arbitrary value (typically a DTO struct or slice of
// structs) into the JSON-shaped form the expander operates on.
func Normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize resource: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize resource: %w", err)
	}
	return out, nil
}

// Responder binds a registry and default error policy to gin handlers.
type Responder struct {
	registry *Registry
	policy   ErrorPolicy
}

// NewResponder creates a Responder with a module-wide default policy.
func NewResponder(registry *Registry, defaultPolicy ErrorPolicy) *Responder {
	if defaultPolicy == "" {
		defaultPolicy = PolicyIgnore
	}
	return &Responder{registry: registry, policy: defaultPolicy}
}

// RespondOption overrides per-endpoint expansion settings.
type RespondOption func(*Options)

// WithRootField locates the resource under a field of the response
// envelope.
func WithRootField(field string) RespondOption {
	return func(o *Options) { o.RootField = field }
}

// WithPolicy overrides the responder's default error policy for one
// endpoint.
func WithPolicy(policy ErrorPolicy) RespondOption {
	return func(o *Options) { o.Policy = policy }
}

// JSON expands and masks a controller result per the request's expands and
// selects query strings, then writes it as JSON.
//
//	responder.JSON(c, http.StatusOK, courses, "Course")
//
// handles GET /courses?expands=instructor&selects=*,-description.
func (r *Responder) JSON(c *gin.Context, status int, resource any, dto string, opts ...RespondOption) {
	normalized, err := Normalize(resource)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	options := Options{
		DTO:     dto,
		Policy:  r.policy,
		Request: c.Request,
	}
	for _, opt := range opts {
		opt(&options)
	}

	expandTree := Parse(c.Query(expandsParam))
	selectTree := Parse(c.Query(selectsParam))

	result, err := r.registry.Expand(c.Request.Context(), normalized, expandTree, options)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(status, ApplySelection(result.Resource, selectTree))
}
