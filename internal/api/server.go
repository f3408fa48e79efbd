// Package api exposes the composition engine over REST: descriptor
// validation and graph inspection, without touching tensor data.
package api

import (
	"errors"
	"io"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/fusegraph/fusegraph/internal/fused"
	"github.com/fusegraph/fusegraph/internal/logger"
	"github.com/fusegraph/fusegraph/internal/version"
)

type Server struct {
	log logger.Logger
}

func NewServer(log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/validate", s.handleValidate)
	e.POST("/v1/graph", s.handleGraph)
	e.GET("/v1/version", s.handleVersion)
}

// handleValidate runs the allocation-free validator over a descriptor
// set. Rejections are part of the normal response, not HTTP errors;
// only malformed requests get a 4xx.
func (s *Server) handleValidate(c *echo.Context) error {
	reqID := newRequestID()
	cfg, err := decodeJSON[StepConfig](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ops, params, err := cfg.toDescs()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	resp := ValidateResponse{RequestID: reqID}
	if err := fused.Validate(ops, params); err != nil {
		var ce *fused.ConfigError
		if !errors.As(err, &ce) {
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
		resp.Reason = ce.Reason
		resp.Error = ce.Msg
		s.log.Debug("validate rejected", "request_id", reqID, "reason", ce.Reason)
		return c.JSON(http.StatusOK, resp)
	}
	resp.Valid = true
	resp.Features = params.Features().String()
	return c.JSON(http.StatusOK, resp)
}

// handleGraph assembles the kernel graph for a valid descriptor set and
// returns its description. No scratch memory is allocated; the layer is
// configured over unbound tensors and torn down before responding.
func (s *Server) handleGraph(c *echo.Context) error {
	reqID := newRequestID()
	cfg, err := decodeJSON[StepConfig](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	ops, params, err := cfg.toTensors()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	layer := fused.NewLSTMLayer(nil, s.log)
	defer layer.Close()
	if err := layer.Configure(ops, params); err != nil {
		var ce *fused.ConfigError
		if errors.As(err, &ce) {
			return writeError(c, http.StatusUnprocessableEntity, "config_error", err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	s.log.Debug("graph assembled", "request_id", reqID, "features", layer.Features().String())
	return c.JSON(http.StatusOK, GraphResponse{RequestID: reqID, Info: layer.Describe()})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"version": version.String()})
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{Message: msg, Type: errType},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func newRequestID() string {
	return "req_" + uuid.NewString()
}
