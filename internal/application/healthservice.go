package application

import (
	"context"
	"errors"
	"fmt"
)

type selfTester interface {
	SelfTest() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthService reports whether the process can serve credential operations.
type HealthService struct {
	cipher selfTester
	store  pinger
}

// NewHealthService creates a new HealthService with the required dependencies.
func NewHealthService(cipher selfTester, store pinger) *HealthService {
	return &HealthService{cipher: cipher, store: store}
}

// Check re-runs the cipher self-test and pings the credential store.
func (s *HealthService) Check(ctx context.Context) error {
	var errList []error
	if err := s.cipher.SelfTest(); err != nil {
		errList = append(errList, fmt.Errorf("cipher: %w", err))
	}
	if err := s.store.Ping(ctx); err != nil {
		errList = append(errList, fmt.Errorf("store: %w", err))
	}
	return errors.Join(errList...)
}
