package uuidtransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/ratelimit"
	"github.com/go-kit/kit/transport"
	httptransport "github.com/go-kit/kit/transport/http"

	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidendpoint"
	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidservice"
)

// ErrBadRouting is returned when an expected path variable is missing.
// It always indicates programmer error.
var ErrBadRouting = errors.New("inconsistent mapping between route and handler")

// NewHTTPHandler returns an HTTP handler that makes a set of endpoints
// available on predefined paths.
func NewHTTPHandler(endpoints uuidendpoint.Set, logger log.Logger) http.Handler {
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(errorEncoder),
		httptransport.ServerErrorHandler(transport.NewLogErrorHandler(logger)),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1/uuid").Subrouter()
	api.Methods("GET").Path("/get").Handler(httptransport.NewServer(
		endpoints.GenerateEndpoint,
		decodeGenerateRequest,
		encodeResponse,
		options...,
	))
	api.Methods("GET").Path("/get-id").Handler(httptransport.NewServer(
		endpoints.CorrelatedEndpoint,
		decodeQueryCorrelatedRequest,
		encodeResponse,
		options...,
	))
	api.Methods("GET").Path("/path/get/{id}").Handler(httptransport.NewServer(
		endpoints.CorrelatedEndpoint,
		decodePathCorrelatedRequest,
		encodeResponse,
		options...,
	))
	api.Methods("GET").Path("/get-slow").Handler(httptransport.NewServer(
		endpoints.GenerateSlowEndpoint,
		decodeGenerateRequest,
		encodeResponse,
		options...,
	))
	api.Methods("GET").Path("/get/error").Handler(httptransport.NewServer(
		endpoints.FailEndpoint,
		decodeGenerateRequest,
		encodeResponse,
		options...,
	))
	r.Methods("GET").Path("/metrics").Handler(promhttp.Handler())
	return r
}

func decodeGenerateRequest(_ context.Context, _ *http.Request) (interface{}, error) {
	return uuidendpoint.GenerateRequest{}, nil
}

// decodeQueryCorrelatedRequest binds the optional ?id= query parameter. An
// absent parameter decodes to the empty token; the service renders it as
// "null" in the composed message.
func decodeQueryCorrelatedRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return uuidendpoint.CorrelatedRequest{Token: r.URL.Query().Get("id")}, nil
}

// decodePathCorrelatedRequest binds the mandatory {id} path segment.
func decodePathCorrelatedRequest(_ context.Context, r *http.Request) (interface{}, error) {
	vars := mux.Vars(r)
	id, ok := vars["id"]
	if !ok {
		return nil, ErrBadRouting
	}
	return uuidendpoint.CorrelatedRequest{Token: id}, nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	return json.NewEncoder(w).Encode(response)
}

func errorEncoder(_ context.Context, err error, w http.ResponseWriter) {
	if errors.Is(err, uuidservice.ErrForcedFailure) {
		// Bare 500 with an empty body; the proxy's failure accounting
		// keys off the status alone.
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(err2code(err))
	json.NewEncoder(w).Encode(errorWrapper{Error: err.Error()})
}

func err2code(err error) int {
	switch {
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type errorWrapper struct {
	Error string `json:"error"`
}
