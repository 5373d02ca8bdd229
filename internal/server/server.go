// Package server serves the local procedure store as a catalog, so one
// node can act as the remote for others.
//
//	GET /health                 liveness and procedure count
//	GET /api/procedures         {"procedures":[{"id":..,"title":..,"author":..}]}
//	GET /api/procedures/:id     the procedure XML; id is the procedure GUID
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/sana-health/procsync/internal/catalog"
	"github.com/sana-health/procsync/internal/procedure"
	"github.com/sana-health/procsync/internal/store"
)

// Reader is the store access the server needs.
type Reader interface {
	List(ctx context.Context, f store.ListFilter) ([]*procedure.Document, error)
	GetByGUID(ctx context.Context, guid string) (*procedure.Document, error)
	Count(ctx context.Context) (int, error)
}

// Config configures the catalog server.
type Config struct {
	// JWTSecret enables device token verification on /api routes.
	JWTSecret string
}

// Server is the HTTP catalog server.
type Server struct {
	echo   *echo.Echo
	reader Reader
	log    zerolog.Logger
}

// New builds the server and its routes.
func New(reader Reader, cfg Config, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "server").Logger()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(Logger(logger))
	e.Use(Recovery(logger))

	s := &Server{echo: e, reader: reader, log: logger}

	e.GET("/health", s.health)

	api := e.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(DeviceAuth([]byte(cfg.JWTSecret)))
	}
	api.GET("/procedures", s.listProcedures)
	api.GET("/procedures/:id", s.getProcedure)

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("catalog server listening")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) health(c echo.Context) error {
	n, err := s.reader.Count(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"procedures": n,
	})
}

func (s *Server) listProcedures(c echo.Context) error {
	docs, err := s.reader.List(c.Request().Context(), store.ListFilter{})
	if err != nil {
		s.log.Error().Err(err).Msg("list procedures failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list procedures")
	}

	listing := catalog.Listing{Procedures: make([]procedure.Descriptor, 0, len(docs))}
	for _, d := range docs {
		listing.Procedures = append(listing.Procedures, procedure.Descriptor{
			ID:     d.GUID,
			Title:  d.Title,
			Author: d.Author,
		})
	}
	return c.JSON(http.StatusOK, listing)
}

func (s *Server) getProcedure(c echo.Context) error {
	doc, err := s.reader.GetByGUID(c.Request().Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "procedure not found")
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", c.Param("id")).Msg("get procedure failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load procedure")
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, []byte(doc.Body))
}
