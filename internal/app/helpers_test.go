package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/payex/linking-service/internal/domain"
	"github.com/payex/linking-service/internal/store"
)

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type stubValidator struct {
	snapshot *domain.AccountSnapshot
	err      error
	calls    int
}

func (s *stubValidator) Supports(provider domain.Provider) bool {
	return provider != ""
}

func (s *stubValidator) Validate(_ context.Context, _ domain.Provider, _ domain.Credentials) (*domain.AccountSnapshot, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := *s.snapshot
	return &out, nil
}

type stubLimiter struct {
	decision LimitDecision
	err      error
}

func (s stubLimiter) Allow(context.Context, string) (LimitDecision, error) {
	return s.decision, s.err
}

type recordedEvent struct {
	routingKey string
	body       interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{routingKey: routingKey, body: body})
	return nil
}

func (p *recordingPublisher) count(routingKey string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.routingKey == routingKey {
			n++
		}
	}
	return n
}

// failingUpdateRepo fails Update for the listed account ids.
type failingUpdateRepo struct {
	*store.MemoryLinkedAccountRepository
	failIDs map[string]bool
}

func (r *failingUpdateRepo) Update(ctx context.Context, account *domain.LinkedAccount) error {
	if r.failIDs[account.ID] {
		return errors.New("connection reset")
	}
	return r.MemoryLinkedAccountRepository.Update(ctx, account)
}
