package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplySelection_EmptyTreeKeepsEverything(t *testing.T) {
	resource := map[string]any{"a": 1.0, "b": 2.0}
	assert.Equal(t, resource, ApplySelection(resource, Parse("")))
}

func TestApplySelection_ExplicitFields(t *testing.T) {
	resource := map[string]any{"id": 1.0, "title": "T", "description": "D"}
	masked := ApplySelection(resource, Parse("id,title")).(map[string]any)

	assert.Equal(t, map[string]any{"id": 1.0, "title": "T"}, masked)
}

func TestApplySelection_WildcardWithNegation(t *testing.T) {
	resource := map[string]any{"id": 1.0, "title": "T", "description": "D"}
	masked := ApplySelection(resource, Parse("*,-description")).(map[string]any)

	assert.Equal(t, map[string]any{"id": 1.0, "title": "T"}, masked)
}

func TestApplySelection_Collections(t *testing.T) {
	resource := []any{
		map[string]any{"id": 1.0, "secret": "x"},
		map[string]any{"id": 2.0, "secret": "y"},
	}
	masked := ApplySelection(resource, Parse("id")).([]any)

	require.Len(t, masked, 2)
	assert.Equal(t, map[string]any{"id": 1.0}, masked[0])
	assert.Equal(t, map[string]any{"id": 2.0}, masked[1])
}

// TestExpandThenSelect_CourseScenario exercises the documented end-to-end
// behavior: GET /courses?expands=instructor,parent.instructor
// &selects=*,-description,instructor.*,-instructor.bio
func TestExpandThenSelect_CourseScenario(t *testing.T) {
	r := courseRegistry()

	courses := []any{
		course(10, 1, nil),
		course(11, 2, 1.0),
	}

	result, err := r.Expand(context.Background(), courses,
		Parse("instructor,parent.instructor"), Options{DTO: "Course"})
	require.NoError(t, err)

	masked := ApplySelection(result.Resource,
		Parse("*,-description,instructor.*,-instructor.bio")).([]any)
	require.Len(t, masked, 2)

	first := masked[0].(map[string]any)

	// description stripped at root, everything else kept
	assert.NotContains(t, first, "description")
	assert.Contains(t, first, "id")
	assert.Contains(t, first, "title")
	assert.Contains(t, first, "instructorId")

	// instructor populated, bio stripped
	instructor := first["instructor"].(map[string]any)
	assert.Equal(t, "Ada", instructor["name"])
	assert.NotContains(t, instructor, "bio")
	assert.Contains(t, instructor, "id")

	// second course has its parent's instructor populated
	second := masked[1].(map[string]any)
	parent := second["parent"].(map[string]any)
	parentInstructor := parent["instructor"].(map[string]any)
	assert.Equal(t, "Ada", parentInstructor["name"])
}

func TestApplySelection_NestedWithoutWildcard(t *testing.T) {
	resource := map[string]any{
		"id": 1.0,
		"instructor": map[string]any{
			"id":   2.0,
			"name": "Ada",
			"bio":  "secret",
		},
	}

	masked := ApplySelection(resource, Parse("id,instructor.name")).(map[string]any)

	assert.Equal(t, 1.0, masked["id"])
	instructor := masked["instructor"].(map[string]any)
	assert.Equal(t, map[string]any{"name": "Ada"}, instructor)
}

func TestApplySelection_KeepsExpansionErrors(t *testing.T) {
	resource := map[string]any{
		"id":      1.0,
		"hidden":  true,
		ErrorsKey: map[string]*Error{"Course.x": {Message: "boom", Path: "Course.x"}},
	}

	masked := ApplySelection(resource, Parse("id")).(map[string]any)
	assert.Contains(t, masked, ErrorsKey)
	assert.NotContains(t, masked, "hidden")
}
