package expand

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// courseRegistry builds the registry used across the expansion tests:
// Course.instructor resolves through a reusable container link,
// Course.parent through a standard expander method producing a nested
// Course.
func courseRegistry() *Registry {
	instructors := map[float64]map[string]any{
		1: {"id": 1.0, "name": "Ada", "bio": "Schema design"},
		2: {"id": 2.0, "name": "Edgar", "bio": "Normalization"},
	}
	courses := map[float64]map[string]any{
		1: {"id": 1.0, "title": "Databases", "description": "Foundations", "instructorId": 1.0},
	}

	r := NewRegistry()

	r.RegisterContainer("instructors", Method{
		Name:   "byID",
		Target: "Instructor",
		Fn: func(_ context.Context, _ *Request, args []any) (any, error) {
			id, _ := args[0].(float64)
			instructor, ok := instructors[id]
			if !ok {
				return nil, errors.New("instructor not found")
			}
			return instructor, nil
		},
	})

	r.RegisterExpander(&Expander{
		DTO: "Course",
		Methods: map[string]Method{
			"parent": {
				Name:   "parent",
				Target: "Course",
				Fn: func(_ context.Context, req *Request, _ []any) (any, error) {
					id, ok := req.Parent["parentId"].(float64)
					if !ok {
						return nil, nil
					}
					return courses[id], nil
				},
			},
		},
		Links: map[string]FieldLink{
			"instructor": {Container: "instructors", Method: "byID", Params: []string{"instructorId"}},
		},
	})
	r.MarkExpandable("Course")

	return r
}

func course(id float64, instructorID float64, parentID any) map[string]any {
	c := map[string]any{
		"id":           id,
		"title":        "Course",
		"description":  "About things",
		"instructorId": instructorID,
	}
	if parentID != nil {
		c["parentId"] = parentID
	}
	return c
}

func TestRegistry_Validate(t *testing.T) {
	t.Run("Valid wiring", func(t *testing.T) {
		assert.NoError(t, courseRegistry().Validate())
	})

	t.Run("Expandable DTO without expander", func(t *testing.T) {
		r := NewRegistry()
		r.MarkExpandable("Orphan")
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Orphan")
	})

	t.Run("Link to unknown container", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterExpander(&Expander{
			DTO:   "Course",
			Links: map[string]FieldLink{"instructor": {Container: "missing", Method: "byID"}},
		})
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown container")
	})

	t.Run("Link to unknown method", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterContainer("instructors", Method{Name: "byID", Fn: nil})
		r.RegisterExpander(&Expander{
			DTO:   "Course",
			Links: map[string]FieldLink{"instructor": {Container: "instructors", Method: "byEmail"}},
		})
		err := r.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown method")
	})
}

func TestExpand_SingleObject(t *testing.T) {
	r := courseRegistry()

	result, err := r.Expand(context.Background(),
		course(10, 1, nil), Parse("instructor"), Options{DTO: "Course"})
	require.NoError(t, err)

	obj := result.Resource.(map[string]any)
	instructor := obj["instructor"].(map[string]any)
	assert.Equal(t, "Ada", instructor["name"])

	// The parent's own fields are carried over onto the expanded copy.
	assert.Equal(t, "Course", obj["title"])
	assert.Empty(t, result.Errors)
}

func TestExpand_Collection(t *testing.T) {
	r := courseRegistry()

	resource := []any{course(10, 1, nil), course(11, 2, nil)}
	result, err := r.Expand(context.Background(), resource, Parse("instructor"), Options{DTO: "Course"})
	require.NoError(t, err)

	items := result.Resource.([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "Ada", items[0].(map[string]any)["instructor"].(map[string]any)["name"])
	assert.Equal(t, "Edgar", items[1].(map[string]any)["instructor"].(map[string]any)["name"])
}

func TestExpand_NestedTarget(t *testing.T) {
	r := courseRegistry()

	// parent.instructor recurses through the parent method's Course target.
	result, err := r.Expand(context.Background(),
		course(10, 2, 1.0), Parse("parent.instructor"), Options{DTO: "Course"})
	require.NoError(t, err)

	obj := result.Resource.(map[string]any)
	parent := obj["parent"].(map[string]any)
	instructor := parent["instructor"].(map[string]any)
	assert.Equal(t, "Ada", instructor["name"])
}

func TestExpand_RootField(t *testing.T) {
	r := courseRegistry()

	envelope := map[string]any{
		"total": 1.0,
		"items": []any{course(10, 1, nil)},
	}

	result, err := r.Expand(context.Background(), envelope, Parse("instructor"),
		Options{DTO: "Course", RootField: "items"})
	require.NoError(t, err)

	wrapped := result.Resource.(map[string]any)
	assert.Equal(t, 1.0, wrapped["total"])
	items := wrapped["items"].([]any)
	assert.Contains(t, items[0].(map[string]any), "instructor")
}

func TestExpand_ErrorPolicies(t *testing.T) {
	t.Run("Ignore drops and records", func(t *testing.T) {
		r := courseRegistry()
		result, err := r.Expand(context.Background(),
			course(10, 99, nil), Parse("instructor"), Options{DTO: "Course", Policy: PolicyIgnore})
		require.NoError(t, err)

		obj := result.Resource.(map[string]any)
		assert.NotContains(t, obj, "instructor")
		assert.NotContains(t, obj, ErrorsKey)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors, "Course.instructor")
	})

	t.Run("Include attaches to the object", func(t *testing.T) {
		r := courseRegistry()
		result, err := r.Expand(context.Background(),
			course(10, 99, nil), Parse("instructor"), Options{DTO: "Course", Policy: PolicyInclude})
		require.NoError(t, err)

		obj := result.Resource.(map[string]any)
		attached := obj[ErrorsKey].(map[string]*Error)
		require.Contains(t, attached, "Course.instructor")
		assert.Equal(t, "instructor not found", attached["Course.instructor"].Message)
	})

	t.Run("Include attaches per collection item", func(t *testing.T) {
		r := courseRegistry()
		resource := []any{course(10, 1, nil), course(11, 99, nil)}
		result, err := r.Expand(context.Background(), resource, Parse("instructor"),
			Options{DTO: "Course", Policy: PolicyInclude})
		require.NoError(t, err)

		items := result.Resource.([]any)
		assert.NotContains(t, items[0].(map[string]any), ErrorsKey)

		second := items[1].(map[string]any)
		attached := second[ErrorsKey].(map[string]*Error)
		assert.Contains(t, attached, "Course[1].instructor")
	})

	t.Run("Throw propagates", func(t *testing.T) {
		r := courseRegistry()
		_, err := r.Expand(context.Background(),
			course(10, 99, nil), Parse("instructor"), Options{DTO: "Course", Policy: PolicyThrow})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Course.instructor")
	})

	t.Run("Unknown field follows policy", func(t *testing.T) {
		r := courseRegistry()
		result, err := r.Expand(context.Background(),
			course(10, 1, nil), Parse("nonexistent"), Options{DTO: "Course", Policy: PolicyIgnore})
		require.NoError(t, err)
		assert.Contains(t, result.Errors, "Course.nonexistent")
	})
}

func TestExpand_ArgumentResolution(t *testing.T) {
	newEchoRegistry := func(link FieldLink) (*Registry, *[]any) {
		var gotArgs []any
		r := NewRegistry()
		r.RegisterContainer("echo", Method{
			Name: "args",
			Fn: func(_ context.Context, _ *Request, args []any) (any, error) {
				gotArgs = args
				return "ok", nil
			},
		})
		r.RegisterExpander(&Expander{
			DTO:   "Thing",
			Links: map[string]FieldLink{"field": link},
		})
		return r, &gotArgs
	}

	t.Run("Params resolve parent property paths", func(t *testing.T) {
		r, gotArgs := newEchoRegistry(FieldLink{
			Container: "echo",
			Method:    "args",
			Params:    []string{"id", "nested.value", "missing"},
		})

		resource := map[string]any{
			"id":     5.0,
			"nested": map[string]any{"value": "deep"},
		}
		_, err := r.Expand(context.Background(), resource, Parse("field"), Options{DTO: "Thing"})
		require.NoError(t, err)

		assert.Equal(t, []any{5.0, "deep", nil}, *gotArgs)
	})

	t.Run("ArgsFunc takes precedence over Params", func(t *testing.T) {
		r, gotArgs := newEchoRegistry(FieldLink{
			Container: "echo",
			Method:    "args",
			Params:    []string{"ignored"},
			ArgsFunc: func(parent map[string]any, _ *http.Request) []any {
				return []any{"computed", parent["id"]}
			},
		})

		_, err := r.Expand(context.Background(), map[string]any{"id": 5.0},
			Parse("field"), Options{DTO: "Thing"})
		require.NoError(t, err)

		assert.Equal(t, []any{"computed", 5.0}, *gotArgs)
	})
}
