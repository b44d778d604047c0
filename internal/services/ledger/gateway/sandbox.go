package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

// SandboxName is the name the sandbox registers under by default.
const SandboxName = "sandbox"

// Sandbox resolves payments offline. The cents of the amount choose the
// outcome so tests and local runs can drive every path:
//
//	.01 REJECTED   .02 ERROR   .03 PENDING   .04 ABANDONED   .05 EXPIRED
//
// Any other amount is CONFIRMED.
type Sandbox struct{}

var sandboxOutcomes = map[string]status.PaymentStatus{
	"0.01": status.PaymentRejected,
	"0.02": status.PaymentError,
	"0.03": status.PaymentPending,
	"0.04": status.PaymentAbandoned,
	"0.05": status.PaymentExpired,
}

// Execute returns the scripted result for req. The external reference is
// stable per payment.
func (Sandbox) Execute(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.PaymentID == "" {
		return Result{}, apperrors.Validation("payment_id", "payment id is required")
	}
	if !req.Amount.IsPositive() {
		return Result{}, apperrors.Validation("amount", "amount must be positive")
	}
	outcome := status.PaymentConfirmed
	cents := req.Amount.Sub(req.Amount.Floor()).Round(2)
	if scripted, ok := sandboxOutcomes[cents.StringFixed(2)]; ok {
		outcome = scripted
	}
	result := Result{
		Status:              outcome,
		ExternalReferenceID: "sbx_" + id.Derive(SandboxName, req.PaymentID),
	}
	if outcome == status.PaymentError {
		result.Reason = "sandbox: card declined by issuer"
	}
	return result, nil
}

// SandboxAmount returns base with the cents that script outcome, for tests.
func SandboxAmount(base int64, outcome status.PaymentStatus) decimal.Decimal {
	value := decimal.NewFromInt(base)
	for cents, scripted := range sandboxOutcomes {
		if scripted == outcome {
			return value.Add(decimal.RequireFromString(cents))
		}
	}
	return value
}
