package uuidendpoint

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/go-kit/kit/endpoint"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/ratelimit"

	"github.com/prateekgoelmzn/load-balancer-handson/pkg/uuidservice"
)

// Set collects all of the endpoints that compose a UUID service. It's meant
// to be used as a helper struct, to collect all of the endpoints into a
// single parameter.
type Set struct {
	GenerateEndpoint     endpoint.Endpoint
	CorrelatedEndpoint   endpoint.Endpoint
	GenerateSlowEndpoint endpoint.Endpoint
	FailEndpoint         endpoint.Endpoint
}

// New returns a Set that wraps the provided server, and wires in all of the
// expected endpoint middlewares via the various parameters.
func New(svc uuidservice.Service, logger log.Logger, duration metrics.Histogram) Set {
	var generateEndpoint endpoint.Endpoint
	{
		generateEndpoint = MakeGenerateEndpoint(svc)
		generateEndpoint = ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Limit(100), 100))(generateEndpoint)
		generateEndpoint = LoggingMiddleware(log.With(logger, "method", "Generate"))(generateEndpoint)
		generateEndpoint = InstrumentingMiddleware(duration.With("method", "Generate"))(generateEndpoint)
	}
	var correlatedEndpoint endpoint.Endpoint
	{
		correlatedEndpoint = MakeCorrelatedEndpoint(svc)
		correlatedEndpoint = ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Limit(100), 100))(correlatedEndpoint)
		correlatedEndpoint = LoggingMiddleware(log.With(logger, "method", "GenerateCorrelated"))(correlatedEndpoint)
		correlatedEndpoint = InstrumentingMiddleware(duration.With("method", "GenerateCorrelated"))(correlatedEndpoint)
	}
	var generateSlowEndpoint endpoint.Endpoint
	{
		// The slow endpoint pins a worker for the whole delay, so it gets
		// a much tighter limiter than the others.
		generateSlowEndpoint = MakeGenerateSlowEndpoint(svc)
		generateSlowEndpoint = ratelimit.NewErroringLimiter(rate.NewLimiter(rate.Limit(10), 10))(generateSlowEndpoint)
		generateSlowEndpoint = LoggingMiddleware(log.With(logger, "method", "GenerateSlow"))(generateSlowEndpoint)
		generateSlowEndpoint = InstrumentingMiddleware(duration.With("method", "GenerateSlow"))(generateSlowEndpoint)
	}
	var failEndpoint endpoint.Endpoint
	{
		failEndpoint = MakeFailEndpoint(svc)
		failEndpoint = LoggingMiddleware(log.With(logger, "method", "Fail"))(failEndpoint)
		failEndpoint = InstrumentingMiddleware(duration.With("method", "Fail"))(failEndpoint)
	}
	return Set{
		GenerateEndpoint:     generateEndpoint,
		CorrelatedEndpoint:   correlatedEndpoint,
		GenerateSlowEndpoint: generateSlowEndpoint,
		FailEndpoint:         failEndpoint,
	}
}

// MakeGenerateEndpoint constructs a Generate endpoint wrapping the service.
func MakeGenerateEndpoint(s uuidservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		id, err := s.Generate(ctx)
		if err != nil {
			return nil, err
		}
		return GenerateResponse{UUID: id.UUID, InstanceID: id.InstanceID}, nil
	}
}

// MakeCorrelatedEndpoint constructs a GenerateCorrelated endpoint wrapping
// the service. The same endpoint backs both the query-parameter and the
// path-segment routes; they differ only in how the token is bound.
func MakeCorrelatedEndpoint(s uuidservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		req := request.(CorrelatedRequest)
		c, err := s.GenerateCorrelated(ctx, req.Token)
		if err != nil {
			return nil, err
		}
		return CorrelatedResponse{Message: c.Message, InstanceID: c.InstanceID}, nil
	}
}

// MakeGenerateSlowEndpoint constructs a GenerateSlow endpoint wrapping the
// service.
func MakeGenerateSlowEndpoint(s uuidservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		id, err := s.GenerateSlow(ctx)
		if err != nil {
			return nil, err
		}
		return GenerateResponse{UUID: id.UUID, InstanceID: id.InstanceID}, nil
	}
}

// MakeFailEndpoint constructs a Fail endpoint wrapping the service.
func MakeFailEndpoint(s uuidservice.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		return nil, s.Fail(ctx)
	}
}

// GenerateRequest collects the request parameters for the Generate and
// GenerateSlow methods. There are none.
type GenerateRequest struct{}

// GenerateResponse collects the response values for the Generate and
// GenerateSlow methods.
type GenerateResponse struct {
	UUID       string `json:"uuid"`
	InstanceID string `json:"instanceId"`
}

// CorrelatedRequest collects the request parameters for the
// GenerateCorrelated method.
type CorrelatedRequest struct {
	Token string
}

// CorrelatedResponse collects the response values for the
// GenerateCorrelated method.
type CorrelatedResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
}
