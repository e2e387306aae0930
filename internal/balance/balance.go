// Package balance
package balance

import (
	"context"
	"fmt"
	"sync"
)

// Service is the cash-balance collaborator the trading engine settles
// against. Implementations must reject any delta that would drive the
// balance negative.
type Service interface {
	Balance(ctx context.Context) (float64, error)
	ApplyDelta(ctx context.Context, amount float64, reason string) (float64, error)
}

// InProcess keeps the cash balance in memory. It is the default backing for
// single-node deployments.
type InProcess struct {
	mu      sync.Mutex
	balance float64
}

func NewInProcess(starting float64) *InProcess {
	if starting < 0 {
		starting = 0
	}
	return &InProcess{balance: starting}
}

func (s *InProcess) Balance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// ApplyDelta adds amount (negative for debits) and returns the new balance.
func (s *InProcess) ApplyDelta(ctx context.Context, amount float64, reason string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.balance + amount
	if next < 0 {
		return s.balance, fmt.Errorf("balance would go negative: %.2f %+.2f (%s)", s.balance, amount, reason)
	}
	s.balance = next
	return s.balance, nil
}
