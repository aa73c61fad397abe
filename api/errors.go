package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/contracts_backend/config"
	"github.com/mmdatafocus/contracts_backend/models"
	"github.com/mmdatafocus/contracts_backend/utils"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// ErrorMiddleware renders the last error a handler attached with c.Error.
// It is the only place errors become HTTP responses.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, body := renderError(err)
		if status >= http.StatusInternalServerError {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			config.LogError(config.GetLogger(), "api", c.HandlerName(), c.Request.Method+" "+c.FullPath(), map[string]any{
				"correlation_id": cid,
			}, err)
		}
		c.JSON(status, body)
	}
}

// malformedRequestError wraps a body or parameter that could not be decoded.
type malformedRequestError struct{ err error }

func (e malformedRequestError) Error() string { return e.err.Error() }
func (e malformedRequestError) Unwrap() error { return e.err }

func renderError(err error) (int, ErrorBody) {
	if ce, ok := models.AsContractError(err); ok {
		return ce.StatusCode(), ErrorBody{Code: ce.Code, Message: ce.Message, Data: ce.Data}
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ErrorBody{
			Code:    models.ErrValidation.Code,
			Message: "request validation failed",
			Data:    utils.ProcessValidationErrors(err),
		}
	}

	var malformed malformedRequestError
	if errors.As(err, &malformed) {
		return http.StatusBadRequest, ErrorBody{Code: "request.malformed", Message: malformed.Error()}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return http.StatusBadRequest, ErrorBody{Code: "request.malformed", Message: "request body is not valid JSON"}
	}

	return http.StatusInternalServerError, ErrorBody{Code: "internal_error", Message: "internal server error"}
}
