package uuidservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service generates random identifiers on behalf of one named replica.
type Service interface {
	// Generate returns a fresh version-4 UUID.
	Generate(ctx context.Context) (Identifier, error)

	// GenerateCorrelated returns a fresh UUID composed with a
	// caller-supplied correlation token. An empty token is rendered as
	// the literal "null"; callers depend on that.
	GenerateCorrelated(ctx context.Context, token string) (Correlated, error)

	// GenerateSlow is Generate after a fixed delay. It exists to burn a
	// worker slot so that proxy timeout behavior can be observed.
	GenerateSlow(ctx context.Context) (Identifier, error)

	// Fail always returns ErrForcedFailure.
	Fail(ctx context.Context) error
}

// Identifier is one generated UUID, tagged with the replica that made it.
type Identifier struct {
	UUID       string
	InstanceID string
}

// Correlated is a generated UUID composed with a correlation token.
type Correlated struct {
	Message    string
	InstanceID string
}

// ErrForcedFailure is returned by Fail, unconditionally. The transport
// surfaces it as a bare 500 so that a proxy in front can count it.
var ErrForcedFailure = errors.New("forced failure")

type basicService struct {
	instanceID string
	slowDelay  time.Duration
}

// New returns a Service identifying itself as instanceID. slowDelay is how
// long GenerateSlow blocks before answering.
func New(instanceID string, slowDelay time.Duration) Service {
	return basicService{
		instanceID: instanceID,
		slowDelay:  slowDelay,
	}
}

func (s basicService) Generate(_ context.Context) (Identifier, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return Identifier{}, err
	}
	return Identifier{UUID: u.String(), InstanceID: s.instanceID}, nil
}

func (s basicService) GenerateCorrelated(ctx context.Context, token string) (Correlated, error) {
	if token == "" {
		token = "null"
	}
	id, err := s.Generate(ctx)
	if err != nil {
		return Correlated{}, err
	}
	return Correlated{
		Message:    fmt.Sprintf("id %s : uuid %s", token, id.UUID),
		InstanceID: s.instanceID,
	}, nil
}

func (s basicService) GenerateSlow(ctx context.Context) (Identifier, error) {
	timer := time.NewTimer(s.slowDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return Identifier{}, ctx.Err()
	}
	return s.Generate(ctx)
}

func (s basicService) Fail(_ context.Context) error {
	return ErrForcedFailure
}
