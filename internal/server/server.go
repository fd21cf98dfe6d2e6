package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// NotesService is what the HTTP layer needs from rag.Service
type NotesService interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (models.UploadResult, error)
	Ask(ctx context.Context, userID, question string) (models.Answer, error)
	GenerateQuiz(ctx context.Context, userID, topic string, numQuestions int) ([]models.QuizQuestion, error)
}

type Server struct {
	echo    *echo.Echo
	service NotesService
	config  *config.ServerConfig
}

func NewServer(service NotesService, gatherer prometheus.Gatherer, cfg *config.ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*"},
	}))
	e.Use(requestLogger)

	s := &Server{echo: e, service: service, config: cfg}

	e.GET("/", s.handleRoot)
	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	e.POST("/upload_notes", s.handleUpload)
	e.POST("/ask", s.handleAsk)
	e.POST("/generate_quiz", s.handleQuiz)

	return s
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			// let the error handler write the response so the status is final
			c.Error(err)
		}

		log.Info().
			Str("method", c.Request().Method).
			Str("uri", c.Request().RequestURI).
			Int("status", c.Response().Status).
			Dur("duration", time.Since(start)).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("http request")
		return nil
	}
}

// ServeHTTP makes the server usable with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	log.Info().Str("addr", addr).Msg("starting http server")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down http server")
	return s.echo.Shutdown(ctx)
}
