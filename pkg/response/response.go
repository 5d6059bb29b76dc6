package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/feedbackloop/pkg/logger"
)

// Response is the body of every API reply. Code is 0 on success and the
// HTTP status otherwise.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// AppError is an error that carries the HTTP status it should be reported with.
type AppError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func newAppError(status int, msg string) *AppError {
	return &AppError{HTTPStatus: status, Code: status, Message: msg}
}

func NewBadRequest(msg string) *AppError   { return newAppError(http.StatusBadRequest, msg) }
func NewUnauthorized(msg string) *AppError { return newAppError(http.StatusUnauthorized, msg) }
func NewForbidden(msg string) *AppError    { return newAppError(http.StatusForbidden, msg) }
func NewNotFound(msg string) *AppError     { return newAppError(http.StatusNotFound, msg) }
func NewTooLarge(msg string) *AppError     { return newAppError(http.StatusRequestEntityTooLarge, msg) }
func NewServerError(msg string) *AppError  { return newAppError(http.StatusInternalServerError, msg) }

// NewBadGateway reports a failing upstream such as a model provider or bot.
func NewBadGateway(msg string) *AppError { return newAppError(http.StatusBadGateway, msg) }

// NewUnavailable asks the caller to retry later, e.g. during shutdown.
func NewUnavailable(msg string) *AppError { return newAppError(http.StatusServiceUnavailable, msg) }

// Success sends a 200 OK response with data.
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

// Created sends a 201 Created response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Code: 0, Message: "created", Data: data})
}

// Error writes err. An *AppError anywhere in the chain sets the status;
// anything else is logged and reported as a 500 without its details.
func Error(c *gin.Context, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled request error")
		appErr = NewServerError("internal server error")
	}
	c.JSON(appErr.HTTPStatus, Response{Code: appErr.Code, Message: appErr.Message})
}

func BadRequest(c *gin.Context, msg string)   { Error(c, NewBadRequest(msg)) }
func Unauthorized(c *gin.Context, msg string) { Error(c, NewUnauthorized(msg)) }
func Forbidden(c *gin.Context, msg string)    { Error(c, NewForbidden(msg)) }
func NotFound(c *gin.Context, msg string)     { Error(c, NewNotFound(msg)) }
func ServerError(c *gin.Context, msg string)  { Error(c, NewServerError(msg)) }
