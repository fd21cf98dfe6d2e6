package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"studybuddy-rag/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

type messageResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type uploadResponse struct {
	Message string `json:"message"`
	models.UploadResult
}

type askRequest struct {
	Question string `json:"question"`
	UserID   string `json:"user_id"`
}

type quizRequest struct {
	Topic        string `json:"topic"`
	UserID       string `json:"user_id"`
	NumQuestions int    `json:"num_questions"`
}

type quizResponse struct {
	Questions []models.QuizQuestion `json:"questions"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, messageResponse{Message: "StudyBuddy AI Backend is running!"})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "healthy"})
}

func (s *Server) handleUpload(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		userID = models.DefaultUserID
	}

	c.Request().Body = http.MaxBytesReader(c.Response(), c.Request().Body, s.config.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "File is too large")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "A file field is required")
	}

	f, err := fh.Open()
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	res, err := s.service.Upload(c.Request().Context(), userID, fh.Filename, data)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, uploadResponse{Message: "Notes uploaded successfully", UploadResult: res})
}

func (s *Server) handleAsk(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Msg("invalid ask request")
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	answer, err := s.service.Ask(c.Request().Context(), req.UserID, req.Question)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) handleQuiz(c echo.Context) error {
	var req quizRequest
	if err := c.Bind(&req); err != nil {
		log.Warn().Err(err).Msg("invalid quiz request")
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}

	questions, err := s.service.GenerateQuiz(c.Request().Context(), req.UserID, req.Topic, req.NumQuestions)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, quizResponse{Questions: questions})
}

// errorHandler writes every error as {"detail": ...}. Domain errors get their
// own status; anything unexpected is logged and reported as a 500.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, detail := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("uri", c.Request().RequestURI).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, errorResponse{Detail: detail})
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to write error response")
	}
}

func statusFor(err error) (int, string) {
	var (
		httpErr     *echo.HTTPError
		unsupported *models.UnsupportedFileTypeError
		noText      *models.NoTextError
	)
	switch {
	case errors.As(err, &httpErr):
		if msg, ok := httpErr.Message.(string); ok {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	case errors.As(err, &unsupported):
		return http.StatusBadRequest, unsupportedDetail(unsupported.Allowed)
	case errors.Is(err, models.ErrUnsupportedFileType):
		return http.StatusBadRequest, "Unsupported file type"
	case errors.As(err, &noText):
		return http.StatusBadRequest, fmt.Sprintf("No text found in %s", noText.Filename)
	case errors.Is(err, models.ErrNoText):
		return http.StatusBadRequest, "No text found in file"
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "No notes found. Please upload notes first."
	case errors.Is(err, models.ErrNoContent):
		return http.StatusNotFound, "No content available for quiz generation."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func unsupportedDetail(allowed []string) string {
	switch {
	case len(allowed) == 0:
		return "Unsupported file type"
	case len(allowed) == 1 && allowed[0] == ".pdf":
		return "Only PDF files are supported"
	default:
		return fmt.Sprintf("Unsupported file type. Supported types: %s", strings.Join(allowed, ", "))
	}
}
