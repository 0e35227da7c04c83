package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shipnotes/internal/jobs"
	"github.com/shipnotes/internal/pipeline"
	"github.com/shipnotes/internal/render"
	"github.com/shipnotes/pkg/models"
)

// RecordAPI is the record access the HTTP handlers need
type RecordAPI interface {
	pipeline.RecordStore
	ListRecords(ctx context.Context, limit int) ([]*models.GenerationRecord, error)
}

// Enqueuer hands jobs to a durable queue. When no queue is configured the
// server falls back to running jobs on a goroutine.
type Enqueuer interface {
	QueueProcessRecordJob(ctx context.Context, jobID string, recordID int64) error
	QueueRenderVideoJob(ctx context.Context, jobID string, recordID int64, force bool) error
}

// Server represents the API server
type Server struct {
	echo       *echo.Echo
	port       int
	records    RecordAPI
	controller *pipeline.Controller
	dispatcher *jobs.Dispatcher
	queue      Enqueuer
	mirror     *render.Mirror
}

// NewServer creates a new API server. queue may be nil.
func NewServer(port int, records RecordAPI, controller *pipeline.Controller, dispatcher *jobs.Dispatcher, queue Enqueuer) *Server {
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:       e,
		port:       port,
		records:    records,
		controller: controller,
		dispatcher: dispatcher,
		queue:      queue,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// WithArtifactMirror enables local caching of rendered artifacts for the
// download endpoint. Without it the endpoint redirects to the backend URL.
func (s *Server) WithArtifactMirror(mirror *render.Mirror) *Server {
	s.mirror = mirror
	return s
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Generation endpoints
	v1.POST("/generations", s.createGeneration)
	v1.GET("/generations", s.listGenerations)
	v1.GET("/generations/:id", s.getGenerationByID)
	v1.POST("/generations/:id/video", s.renderGenerationVideo)
	v1.GET("/generations/:id/artifact", s.downloadArtifact)

	// Async job endpoints
	v1.GET("/jobs", s.listJobs)
	v1.GET("/jobs/:id", s.getJobByID)
	v1.POST("/jobs/:id/cancel", s.cancelJob)
}

// Start begins the API server
func (s *Server) Start() error {
	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
