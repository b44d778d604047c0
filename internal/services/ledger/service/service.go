// Package service is the request surface of the ledger: it turns inbound
// requests into commands and serves the folded aggregates back.
//
// Request ids are idempotency keys. Every id a request mints is derived from
// it, so retrying a request with the same id applies nothing new.
package service

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/platform/id"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/engine"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/payment"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/wallet"
)

// ErrEngineRequired indicates a missing command engine.
var ErrEngineRequired = errors.New("command engine is required")

// Engine is the part of the command engine the service uses.
type Engine interface {
	Execute(ctx context.Context, cmd command.Command) (engine.Result, error)
	Load(ctx context.Context, kind command.AggregateKind, id string) (any, int64, error)
	List(ctx context.Context, kind command.AggregateKind) ([]any, error)
	History(ctx context.Context, kind command.AggregateKind, id string) ([]command.Command, error)
}

// Config wires a Service.
type Config struct {
	// DefaultGateway charges payments whose request names none.
	DefaultGateway string
}

// Service handles ledger requests.
type Service struct {
	engine         Engine
	defaultGateway string
}

// New builds a Service.
func New(e Engine, cfg Config) (*Service, error) {
	if e == nil {
		return nil, ErrEngineRequired
	}
	return &Service{engine: e, defaultGateway: strings.TrimSpace(cfg.DefaultGateway)}, nil
}

// request resolves the idempotency key of a request. A missing key is
// replaced by a random one.
func request(requestID string) (string, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID != "" {
		return requestID, nil
	}
	return id.NewID()
}

func (s *Service) gateway(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaultGateway
	}
	if name == "" {
		return "", apperrors.Validation("gateway", "gateway is required")
	}
	return name, nil
}

// execute applies cmd and treats a replayed request as success.
func (s *Service) execute(ctx context.Context, cmd command.Command) error {
	_, err := s.engine.Execute(ctx, cmd)
	if apperrors.IsAlreadyApplied(err) {
		return nil
	}
	return err
}

// TopUpRequest credits a wallet through a payment.
type TopUpRequest struct {
	RequestID string
	UserID    string
	Amount    string
	Currency  string
	Gateway   string
}

// TopUp identifies the records a top-up opened.
type TopUp struct {
	TransactionID string
	PaymentID     string
}

// TopUpWallet opens a transaction awaiting payment and the payment that
// funds it. The wallet is credited once the gateway confirms the payment.
func (s *Service) TopUpWallet(ctx context.Context, req TopUpRequest) (TopUp, error) {
	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		return TopUp{}, err
	}
	gw, err := s.gateway(req.Gateway)
	if err != nil {
		return TopUp{}, err
	}
	requestID, err := request(req.RequestID)
	if err != nil {
		return TopUp{}, err
	}
	out := TopUp{
		TransactionID: id.Derive(requestID, "transaction"),
		PaymentID:     id.Derive(requestID, "payment"),
	}
	meta := command.Meta{CausationID: requestID}

	createTx, err := command.NewCreateTransaction(meta, out.TransactionID, req.UserID, out.PaymentID, amount)
	if err != nil {
		return TopUp{}, err
	}
	createPayment, err := command.NewCreatePaymentTransaction(meta, out.PaymentID, req.UserID, status.PaymentNew, amount, command.PaymentWalletTopUp, gw, out.TransactionID)
	if err != nil {
		return TopUp{}, err
	}
	if err := s.execute(ctx, createTx); err != nil {
		return TopUp{}, err
	}
	if err := s.execute(ctx, createPayment); err != nil {
		return TopUp{}, err
	}
	return out, nil
}

// WithdrawRequest debits a wallet. Reference defaults to the request id.
type WithdrawRequest struct {
	RequestID string
	UserID    string
	Amount    string
	Currency  string
	Reference string
}

// Withdraw debits a wallet and returns it.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (wallet.State, error) {
	amount, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		return wallet.State{}, err
	}
	requestID, err := request(req.RequestID)
	if err != nil {
		return wallet.State{}, err
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = requestID
	}
	cmd, err := command.NewSubtractWalletAsset(command.Meta{CausationID: requestID}, req.UserID, amount, reference)
	if err != nil {
		return wallet.State{}, err
	}
	if err := s.execute(ctx, cmd); err != nil {
		return wallet.State{}, err
	}
	return s.Wallet(ctx, req.UserID)
}

// SubscribeRequest starts a subscription and charges its first period.
type SubscribeRequest struct {
	RequestID string
	UserID    string
	PlanID    string
	Amount    string
	Currency  string
	Gateway   string
}

// Subscription identifies the records a subscribe request opened.
type Subscription struct {
	SubscriptionID string
	PaymentID      string
}

// Subscribe opens a PENDING subscription and its first payment. The
// subscription activates once the payment is confirmed.
func (s *Service) Subscribe(ctx context.Context, req SubscribeRequest) (Subscription, error) {
	price, err := money.Parse(req.Amount, req.Currency)
	if err != nil {
		return Subscription{}, err
	}
	gw, err := s.gateway(req.Gateway)
	if err != nil {
		return Subscription{}, err
	}
	requestID, err := request(req.RequestID)
	if err != nil {
		return Subscription{}, err
	}
	out := Subscription{
		SubscriptionID: id.Derive(requestID, "subscription"),
		PaymentID:      id.Derive(requestID, "payment"),
	}
	meta := command.Meta{CausationID: requestID}

	createSub, err := command.NewCreateSubscription(meta, out.SubscriptionID, req.UserID, req.PlanID, price)
	if err != nil {
		return Subscription{}, err
	}
	createPayment, err := command.NewCreatePaymentTransaction(meta, out.PaymentID, req.UserID, status.PaymentNew, price, command.PaymentSubscription, gw, out.SubscriptionID)
	if err != nil {
		return Subscription{}, err
	}
	if err := s.execute(ctx, createSub); err != nil {
		return Subscription{}, err
	}
	if err := s.execute(ctx, createPayment); err != nil {
		return Subscription{}, err
	}
	return out, nil
}

// CancelSubscription asks for a subscription to be cancelled.
func (s *Service) CancelSubscription(ctx context.Context, requestID, subscriptionID string) (subscription.State, error) {
	requestID, err := request(requestID)
	if err != nil {
		return subscription.State{}, err
	}
	cmd, err := command.NewCancelSubscription(command.Meta{CausationID: requestID}, subscriptionID)
	if err != nil {
		return subscription.State{}, err
	}
	if err := s.execute(ctx, cmd); err != nil {
		return subscription.State{}, err
	}
	return s.Subscription(ctx, subscriptionID)
}

// ConfirmCancellation completes a pending cancellation.
func (s *Service) ConfirmCancellation(ctx context.Context, requestID, subscriptionID string) (subscription.State, error) {
	requestID, err := request(requestID)
	if err != nil {
		return subscription.State{}, err
	}
	cmd, err := command.NewConfirmSubscriptionCancellation(command.Meta{CausationID: requestID}, subscriptionID)
	if err != nil {
		return subscription.State{}, err
	}
	if err := s.execute(ctx, cmd); err != nil {
		return subscription.State{}, err
	}
	return s.Subscription(ctx, subscriptionID)
}

// GatewayUpdate is a provider notification. Every field is untrusted.
type GatewayUpdate struct {
	// NotificationID is the provider's id for the notification; replays
	// carry the same id.
	NotificationID      string
	PaymentID           string
	Status              string
	ExternalReferenceID string
	Reason              string
}

// ReportGatewayUpdate records a provider notification against a payment.
// Notifications that would move the payment backwards fail with
// ILLEGAL_TRANSITION and change nothing.
func (s *Service) ReportGatewayUpdate(ctx context.Context, update GatewayUpdate) (payment.State, error) {
	next, err := status.ParsePaymentStatus(strings.ToUpper(strings.TrimSpace(update.Status)))
	if err != nil {
		return payment.State{}, err
	}
	requestID, err := request(update.NotificationID)
	if err != nil {
		return payment.State{}, err
	}
	meta := command.Meta{CausationID: requestID}

	var cmd command.Command
	switch next {
	case status.PaymentConfirmed:
		cmd, err = command.NewConfirmPaymentTransaction(meta, update.PaymentID, update.ExternalReferenceID)
	case status.PaymentError:
		reason := strings.TrimSpace(update.Reason)
		if reason == "" {
			reason = "gateway reported an error"
		}
		cmd, err = command.NewSetPaymentTransactionError(meta, update.PaymentID, reason)
	default:
		cmd, err = command.NewUpdatePaymentStatus(meta, update.PaymentID, next, update.ExternalReferenceID)
	}
	if err != nil {
		return payment.State{}, err
	}
	if err := s.execute(ctx, cmd); err != nil {
		return payment.State{}, err
	}
	return s.Payment(ctx, update.PaymentID)
}

// Wallet returns the wallet of userID. A user without activity has an empty
// wallet.
func (s *Service) Wallet(ctx context.Context, userID string) (wallet.State, error) {
	return load[wallet.State](ctx, s.engine, command.AggregateWallet, userID)
}

// Payment returns one payment.
func (s *Service) Payment(ctx context.Context, paymentID string) (payment.State, error) {
	p, err := load[payment.State](ctx, s.engine, command.AggregatePayment, paymentID)
	if err == nil && !p.Created {
		err = apperrors.NotFound("payment", paymentID)
	}
	return p, err
}

// Subscription returns one subscription.
func (s *Service) Subscription(ctx context.Context, subscriptionID string) (subscription.State, error) {
	sub, err := load[subscription.State](ctx, s.engine, command.AggregateSubscription, subscriptionID)
	if err == nil && !sub.Created {
		err = apperrors.NotFound("subscription", subscriptionID)
	}
	return sub, err
}

// Transaction returns one transaction.
func (s *Service) Transaction(ctx context.Context, transactionID string) (transaction.State, error) {
	tx, err := load[transaction.State](ctx, s.engine, command.AggregateTransaction, transactionID)
	if err == nil && !tx.Created {
		err = apperrors.NotFound("transaction", transactionID)
	}
	return tx, err
}

// Subscriptions lists every subscription, optionally of one user.
func (s *Service) Subscriptions(ctx context.Context, userID string) ([]subscription.State, error) {
	states, err := s.engine.List(ctx, command.AggregateSubscription)
	if err != nil {
		return nil, err
	}
	out := make([]subscription.State, 0, len(states))
	for _, state := range states {
		sub, ok := state.(subscription.State)
		if !ok || (userID != "" && sub.UserID != userID) {
			continue
		}
		out = append(out, sub)
	}
	return out, nil
}

// History returns the commands applied to one aggregate, oldest first.
func (s *Service) History(ctx context.Context, kind command.AggregateKind, aggregateID string) ([]command.Command, error) {
	return s.engine.History(ctx, kind, aggregateID)
}

func load[S any](ctx context.Context, e Engine, kind command.AggregateKind, aggregateID string) (S, error) {
	var zero S
	if strings.TrimSpace(aggregateID) == "" {
		return zero, apperrors.Validation("id", string(kind)+" id is required")
	}
	state, _, err := e.Load(ctx, kind, aggregateID)
	if err != nil {
		return zero, err
	}
	typed, ok := state.(S)
	if !ok {
		return zero, errors.New("unexpected " + string(kind) + " state")
	}
	return typed, nil
}
