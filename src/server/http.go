package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"tradingmcp/src/controller"
	"tradingmcp/src/exception"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	logger "github.com/sirupsen/logrus"
)

// maxBodyBytes bounds tool argument bodies on the bridge.
const maxBodyBytes = 1 << 20

// NewRouter builds the HTTP bridge over the gateway.
func NewRouter(g *Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error("healthcheck write failed")
		}
	})

	r.Post("/tools/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !controller.HasTool(name) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tool " + name})
			return
		}

		args, err := decodeArgs(r.Body)
		if err != nil {
			writeError(w, exception.Validation("request body is not a JSON object: %v", err))
			return
		}

		out, err := g.CallTool(r.Context(), name, args)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/resources/{name}", func(w http.ResponseWriter, r *http.Request) {
		out, found, err := g.ReadResource(r.Context(), chi.URLParam(r, "name"))
		switch {
		case !found:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
		case err != nil:
			writeError(w, err)
		default:
			writeJSON(w, http.StatusOK, out)
		}
	})

	return r
}

func decodeArgs(body io.Reader) (map[string]interface{}, error) {
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.UseNumber()

	var args map[string]interface{}
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return args, nil
}

// StatusFor maps an error kind onto the bridge's HTTP status.
func StatusFor(err error) int {
	var e *exception.Error
	if !errors.As(err, &e) {
		return http.StatusBadGateway
	}
	switch e.Kind {
	case exception.KindValidation:
		return http.StatusBadRequest
	case exception.KindSymbolNotFound:
		return http.StatusNotFound
	case exception.KindInsufficientBalance, exception.KindInvalidPrice, exception.KindOrderRejected:
		return http.StatusUnprocessableEntity
	case exception.KindResponse:
		return http.StatusBadGateway
	case exception.KindConnection:
		if e.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), exception.ToPayload(err))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.WithError(err).Error("response encode failed")
	}
}
