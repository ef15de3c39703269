// Package hostapi exposes a liveness session to the host application over HTTP.
package hostapi

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MrCodeEU/pulsegate/pkg/capture"
	"github.com/MrCodeEU/pulsegate/pkg/liveness"
	"github.com/MrCodeEU/pulsegate/pkg/logging"
)

// Session is the part of a liveness session the API drives.
type Session interface {
	Snapshot() liveness.Status
	Reset() error
	Capture() (*liveness.Still, error)
}

// Store persists captured stills.
type Store interface {
	Save(rec capture.Record) (string, error)
	Load(id string) (*capture.Record, error)
	List() ([]string, error)
}

// API serves the liveness endpoints.
type API struct {
	session Session
	store   Store
}

// NewAPI creates the handlers for session and store.
func NewAPI(session Session, store Store) API {
	return API{session: session, store: store}
}

// Register mounts the endpoints under /api/v1.
func Register(g gin.IRouter, api API, handler ...gin.HandlerFunc) {
	group := g.Group("/api/v1", handler...)
	{
		group.GET("/liveness", api.getLiveness)
		group.POST("/liveness/reset", api.resetLiveness)
		group.POST("/captures", api.createCapture)
		group.GET("/captures", api.listCaptures)
		group.GET("/captures/:id", api.getCapture)
	}
}

// NewRouter builds a gin engine with recovery, request logging and the API.
func NewRouter(api API) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.CustomRecovery(func(c *gin.Context, err any) {
			logging.Component("hostapi").WithField("stack", string(debug.Stack())).Errorf("panic: %v", err)
			c.AbortWithStatus(http.StatusInternalServerError)
		}),
		requestLogger(),
	)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	Register(r, api)
	return r
}

func requestLogger() gin.HandlerFunc {
	log := logging.Component("hostapi")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logging.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

func (a API) getLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, a.session.Snapshot())
}

func (a API) resetLiveness(c *gin.Context) {
	if err := a.session.Reset(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a.session.Snapshot())
}

func (a API) createCapture(c *gin.Context) {
	still, err := a.session.Capture()
	if err != nil {
		abortWithError(c, err)
		return
	}

	id, err := a.store.Save(capture.Record{
		SessionID:  still.SessionID,
		CapturedAt: still.CapturedAt,
		State:      string(still.Verdict.State),
		Message:    still.Verdict.Message,
		BPM:        still.BPM,
		Image:      still.JPEG,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	logging.Session("hostapi", still.SessionID).Infof("Stored capture %s (%.1f bpm)", id, still.BPM)
	c.JSON(http.StatusCreated, gin.H{
		"id":          id,
		"session_id":  still.SessionID,
		"captured_at": still.CapturedAt,
		"bpm":         still.BPM,
		"verdict":     still.Verdict,
	})
}

func (a API) listCaptures(c *gin.Context) {
	ids, err := a.store.List()
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": ids, "total": len(ids)})
}

func (a API) getCapture(c *gin.Context) {
	rec, err := a.store.Load(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Header("X-Session-Id", rec.SessionID)
	c.Data(http.StatusOK, "image/jpeg", rec.Image)
}

// abortWithError maps domain errors onto HTTP statuses.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, liveness.ErrCaptureDisabled):
		status = http.StatusConflict
	case errors.Is(err, liveness.ErrClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, capture.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, capture.ErrInvalidID):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		logging.Component("hostapi").WithError(err).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// Server runs the API on an HTTP listener.
type Server struct {
	srv *http.Server
}

// NewServer creates a server for api on addr.
func NewServer(addr string, api API) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(api),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		logging.Component("hostapi").Infof("Host API listening on %s", s.srv.Addr)
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
