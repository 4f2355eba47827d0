package uuidservice

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/metrics"
)

// Middleware describes a service (as opposed to endpoint) middleware.
type Middleware func(Service) Service

// LoggingMiddleware takes a logger as a dependency
// and returns a service Middleware.
func LoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return loggingMiddleware{logger, next}
	}
}

type loggingMiddleware struct {
	logger log.Logger
	next   Service
}

func (mw loggingMiddleware) Generate(ctx context.Context) (id Identifier, err error) {
	defer func(begin time.Time) {
		mw.logger.Log("method", "Generate", "uuid", id.UUID, "instance", id.InstanceID, "took", time.Since(begin), "err", err)
	}(time.Now())
	return mw.next.Generate(ctx)
}

func (mw loggingMiddleware) GenerateCorrelated(ctx context.Context, token string) (c Correlated, err error) {
	defer func(begin time.Time) {
		mw.logger.Log("method", "GenerateCorrelated", "message", c.Message, "instance", c.InstanceID, "took", time.Since(begin), "err", err)
	}(time.Now())
	return mw.next.GenerateCorrelated(ctx, token)
}

func (mw loggingMiddleware) GenerateSlow(ctx context.Context) (id Identifier, err error) {
	defer func(begin time.Time) {
		mw.logger.Log("method", "GenerateSlow", "uuid", id.UUID, "instance", id.InstanceID, "took", time.Since(begin), "err", err)
	}(time.Now())
	return mw.next.GenerateSlow(ctx)
}

func (mw loggingMiddleware) Fail(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		mw.logger.Log("method", "Fail", "took", time.Since(begin), "err", err)
	}(time.Now())
	return mw.next.Fail(ctx)
}

// InstrumentingMiddleware returns a service middleware that counts the
// number of UUIDs generated over the lifetime of the service.
func InstrumentingMiddleware(generated metrics.Counter) Middleware {
	return func(next Service) Service {
		return instrumentingMiddleware{
			generated: generated,
			next:      next,
		}
	}
}

type instrumentingMiddleware struct {
	generated metrics.Counter
	next      Service
}

func (mw instrumentingMiddleware) Generate(ctx context.Context) (Identifier, error) {
	id, err := mw.next.Generate(ctx)
	if err == nil {
		mw.generated.Add(1)
	}
	return id, err
}

func (mw instrumentingMiddleware) GenerateCorrelated(ctx context.Context, token string) (Correlated, error) {
	c, err := mw.next.GenerateCorrelated(ctx, token)
	if err == nil {
		mw.generated.Add(1)
	}
	return c, err
}

func (mw instrumentingMiddleware) GenerateSlow(ctx context.Context) (Identifier, error) {
	id, err := mw.next.GenerateSlow(ctx)
	if err == nil {
		mw.generated.Add(1)
	}
	return id, err
}

func (mw instrumentingMiddleware) Fail(ctx context.Context) error {
	return mw.next.Fail(ctx)
}
