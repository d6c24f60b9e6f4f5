package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/internal/model"
	"github.com/iamvkosarev/persona-chat/internal/usecase"
)

var errBadRequest = errors.New("bad request")

// defaultOwner is the owner of the chats served over HTTP.
const defaultOwner = ""

type sendRequest struct {
	Text  string `json:"text" form:"text"`
	Image string `json:"image" form:"-"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type Server struct {
	cfg         config.HTTP
	chat        *usecase.AiChatUsecase
	attachments *usecase.AttachmentUsecase
	logger      *slog.Logger
	engine      *gin.Engine
}

func New(
	cfg config.HTTP,
	chat *usecase.AiChatUsecase,
	attachments *usecase.AttachmentUsecase,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:         cfg,
		chat:        chat,
		attachments: attachments,
		logger:      logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.logRequests())

	engine.GET("/healthz", s.health)
	api := engine.Group("/api")
	api.GET("/models", s.models)
	api.GET("/chats", s.chats)
	api.GET("/chats/:model", s.history)
	api.POST("/chats/:model/select", s.selectModel)
	api.POST("/chats/:model/messages", s.sendMessage)
	api.DELETE("/chats/:model", s.clearHistory)

	s.engine = engine
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server started", "address", s.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info(
			"http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) models(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"models": s.chat.Models(),
			"active": s.chat.ActiveModel(c.Request.Context(), defaultOwner),
		},
	)
}

func (s *Server) chats(c *gin.Context) {
	c.JSON(http.StatusOK, s.chat.Chats(c.Request.Context(), defaultOwner))
}

func (s *Server) history(c *gin.Context) {
	messages, err := s.chat.History(c.Request.Context(), defaultOwner, modelParam(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) selectModel(c *gin.Context) {
	modelID := modelParam(c)
	messages, err := s.chat.SelectModel(c.Request.Context(), defaultOwner, modelID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": modelID, "messages": messages})
}

// sendMessage accepts JSON {text, image} or a multipart form with a text
// field and an image file. With wait=true it answers once the reply is
// settled, otherwise right away with the placeholder.
func (s *Server) sendMessage(c *gin.Context) {
	req, err := s.readSendRequest(c)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	pending, err := s.chat.Send(c.Request.Context(), defaultOwner, modelParam(c), req.Text, req.Image)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		c.JSON(
			http.StatusAccepted, gin.H{
				"message":     pending.UserMessage,
				"placeholder": pending.Placeholder,
			},
		)
		return
	}

	select {
	case settled := <-pending.Done:
		response := gin.H{"message": pending.UserMessage, "reply": settled}
		if settled.Error {
			response["errorMessage"] = s.chat.UserFacingError(settled.ErrorType)
		}
		c.JSON(http.StatusOK, response)
	case <-c.Request.Context().Done():
	}
}

func (s *Server) readSendRequest(c *gin.Context) (sendRequest, error) {
	var req sendRequest
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		if err := c.ShouldBind(&req); err != nil {
			return req, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		header, err := c.FormFile("image")
		if errors.Is(err, http.ErrMissingFile) {
			return req, nil
		}
		if err != nil {
			return req, fmt.Errorf("%w: %w", errBadRequest, err)
		}
		file, err := header.Open()
		if err != nil {
			return req, fmt.Errorf("failed to open upload: %w", err)
		}
		defer file.Close()
		req.Image, err = s.attachments.ReadImage(file, header.Size)
		return req, err
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		return req, fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return req, s.attachments.CheckDataURI(req.Image)
}

func (s *Server) clearHistory(c *gin.Context) {
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	messages, err := s.chat.ClearHistory(c.Request.Context(), defaultOwner, modelParam(c), confirmed)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	lang := s.chat.Language()
	response := errorResponse{Error: err.Error()}

	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, usecase.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownModel):
		status = http.StatusNotFound
	case errors.Is(err, usecase.ErrClearNotConfirmed):
		status = http.StatusConflict
	case errors.Is(err, usecase.ErrImageTooLarge):
		status = http.StatusRequestEntityTooLarge
		response.Message = s.attachments.UserFacingError(err, lang)
	case errors.Is(err, usecase.ErrUnsupportedImage):
		status = http.StatusUnsupportedMediaType
		response.Message = s.attachments.UserFacingError(err, lang)
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, response)
}

func modelParam(c *gin.Context) model.ModelID {
	return model.ModelID(c.Param("model"))
}
