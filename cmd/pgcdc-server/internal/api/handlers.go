// Package api provides the HTTP surface of the pgcdc server: health and
// queue monitoring endpoints plus a demo resource wired through the
// expansion engine.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coregx/pgcdc"
	"github.com/coregx/pgcdc/expand"
)

// requestIDHeader carries the per-request correlation id.
const requestIDHeader = "X-Request-ID"

// Server wires the engine and the expansion registry into a gin router.
type Server struct {
	engine    *pgcdc.Engine
	responder *expand.Responder
	logger    *zap.Logger
}

// NewServer creates the HTTP API around a running engine.
func NewServer(engine *pgcdc.Engine, registry *expand.Registry, policy expand.ErrorPolicy, logger *zap.Logger) *Server {
	return &Server{
		engine:    engine,
		responder: expand.NewResponder(registry, policy),
		logger:    logger,
	}
}

// Router builds the gin engine with all routes attached.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID())

	router.GET("/healthz", s.health)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/queue/stats", s.queueStats)
		v1.GET("/courses", s.listCourses)
	}

	return router
}

// requestID assigns a correlation id to each request and logs completion.
func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Next()
		s.logger.Debug("request handled",
			zap.String("request_id", id),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": stats, "total": stats.Total()})
}

// Course is the demo DTO served by /api/v1/courses. Its instructor and
// parent fields are populated by the expansion registry on request.
type Course struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	InstructorID int64  `json:"instructorId"`
	ParentID     *int64 `json:"parentId,omitempty"`
}

// Instructor is the demo sub-resource DTO.
type Instructor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Bio  string `json:"bio"`
}

func (s *Server) listCourses(c *gin.Context) {
	parent := int64(1)
	courses := []Course{
		{ID: 1, Title: "Databases", Description: "Relational foundations", InstructorID: 1},
		{ID: 2, Title: "Advanced Databases", Description: "Replication and CDC", InstructorID: 2, ParentID: &parent},
	}
	s.responder.JSON(c, http.StatusOK, courses, "Course")
}

// DemoRegistry builds the expansion registry backing the demo endpoint:
// a Course expander whose instructor field links to a reusable instructor
// loader, plus a nested parent-course expander.
func DemoRegistry() (*expand.Registry, error) {
	instructors := map[int64]Instructor{
		1: {ID: 1, Name: "Ada", Bio: "Schema design"},
		2: {ID: 2, Name: "Edgar", Bio: "Normalization"},
	}
	parent := int64(1)
	courses := map[int64]Course{
		1: {ID: 1, Title: "Databases", Description: "Relational foundations", InstructorID: 1},
		2: {ID: 2, Title: "Advanced Databases", Description: "Replication and CDC", InstructorID: 2, ParentID: &parent},
	}

	registry := expand.NewRegistry()

	registry.RegisterContainer("instructors", expand.Method{
		Name:   "byID",
		Target: "Instructor",
		Fn: func(_ context.Context, _ *expand.Request, args []any) (any, error) {
			id, _ := args[0].(float64)
			instructor, ok := instructors[int64(id)]
			if !ok {
				return nil, nil
			}
			return expand.Normalize(instructor)
		},
	})

	registry.RegisterExpander(&expand.Expander{
		DTO: "Course",
		Methods: map[string]expand.Method{
			"parent": {
				Name:   "parent",
				Target: "Course",
				Fn: func(_ context.Context, req *expand.Request, _ []any) (any, error) {
					id, ok := req.Parent["parentId"].(float64)
					if !ok {
						return nil, nil
					}
					course, ok := courses[int64(id)]
					if !ok {
						return nil, nil
					}
					return expand.Normalize(course)
				},
			},
		},
		Links: map[string]expand.FieldLink{
			"instructor": {
				Container: "instructors",
				Method:    "byID",
				Params:    []string{"instructorId"},
			},
		},
	})

	registry.MarkExpandable("Course")
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}
