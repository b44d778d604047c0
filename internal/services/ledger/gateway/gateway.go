// Package gateway is the boundary to external payment providers.
package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

// Request asks a provider to charge one payment. PaymentID is the
// idempotency key: a payment whose result could not be recorded is
// executed again with the same PaymentID, and providers must answer the
// repeat with the original outcome instead of charging twice.
type Request struct {
	PaymentID   string
	UserID      string
	Amount      decimal.Decimal
	Currency    string
	PaymentType command.PaymentType
	ReferenceID string
}

// Result is the provider's answer. Reason is set for ERROR results.
type Result struct {
	Status              status.PaymentStatus
	ExternalReferenceID string
	Reason              string
}

// Gateway executes payments against one provider. Execute may be called
// more than once for the same Request.PaymentID.
type Gateway interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Registry resolves gateways by the name stored on each payment.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register adds gw under name, replacing any previous one.
func (r *Registry) Register(name string, gw Gateway) error {
	name = normalizeName(name)
	if name == "" {
		return apperrors.Validation("gateway", "gateway name is required")
	}
	if gw == nil {
		return fmt.Errorf("gateway %s is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = gw
	return nil
}

// Lookup returns the gateway registered under name.
func (r *Registry) Lookup(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gw, ok := r.gateways[normalizeName(name)]
	if !ok {
		return nil, apperrors.NotFound("gateway", name)
	}
	return gw, nil
}

// Names lists registered gateways.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
