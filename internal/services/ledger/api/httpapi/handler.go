package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/payment"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/subscription"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/transaction"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/wallet"
	"github.com/louisbranch/ledger.space/internal/services/ledger/service"
)

const maxBodyBytes = 1 << 20

// Ledger is the request service behind the API.
type Ledger interface {
	TopUpWallet(ctx context.Context, req service.TopUpRequest) (service.TopUp, error)
	Withdraw(ctx context.Context, req service.WithdrawRequest) (wallet.State, error)
	Subscribe(ctx context.Context, req service.SubscribeRequest) (service.Subscription, error)
	CancelSubscription(ctx context.Context, requestID, subscriptionID string) (subscription.State, error)
	ConfirmCancellation(ctx context.Context, requestID, subscriptionID string) (subscription.State, error)
	ReportGatewayUpdate(ctx context.Context, update service.GatewayUpdate) (payment.State, error)
	Wallet(ctx context.Context, userID string) (wallet.State, error)
	Payment(ctx context.Context, paymentID string) (payment.State, error)
	Subscription(ctx context.Context, subscriptionID string) (subscription.State, error)
	Transaction(ctx context.Context, transactionID string) (transaction.State, error)
	Subscriptions(ctx context.Context, userID string) ([]subscription.State, error)
	History(ctx context.Context, kind command.AggregateKind, aggregateID string) ([]command.Command, error)
}

type handler struct {
	ledger Ledger
}

// NewHandler routes the API onto a gorilla/mux router.
func NewHandler(ledger Ledger) (http.Handler, error) {
	if ledger == nil {
		return nil, errors.New("ledger service is required")
	}
	h := &handler{ledger: ledger}
	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/wallets/{user_id}", h.getWallet).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{user_id}/topups", h.topUp).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{user_id}/withdrawals", h.withdraw).Methods(http.MethodPost)

	v1.HandleFunc("/subscriptions", h.listSubscriptions).Methods(http.MethodGet)
	v1.HandleFunc("/subscriptions", h.subscribe).Methods(http.MethodPost)
	v1.HandleFunc("/subscriptions/{id}", h.getSubscription).Methods(http.MethodGet)
	v1.HandleFunc("/subscriptions/{id}/cancel", h.cancel).Methods(http.MethodPost)
	v1.HandleFunc("/subscriptions/{id}/cancel/confirm", h.confirmCancel).Methods(http.MethodPost)

	v1.HandleFunc("/payments/{id}", h.getPayment).Methods(http.MethodGet)
	v1.HandleFunc("/payments/{id}/notifications", h.notify).Methods(http.MethodPost)

	v1.HandleFunc("/transactions/{id}", h.getTransaction).Methods(http.MethodGet)

	v1.HandleFunc("/{kind:payment|wallet|subscription|transaction}s/{id}/history", h.history).Methods(http.MethodGet)
	return r, nil
}

type moneyRequest struct {
	RequestID string `json:"request_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway,omitempty"`
	Reference string `json:"reference,omitempty"`
}

type walletView struct {
	UserID   string                     `json:"user_id"`
	Balances map[string]decimal.Decimal `json:"balances"`
}

func viewWallet(w wallet.State) walletView {
	balances := w.Balances
	if balances == nil {
		balances = map[string]decimal.Decimal{}
	}
	return walletView{UserID: w.UserID, Balances: balances}
}

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	state, err := h.ledger.Wallet(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewWallet(state))
}

func (h *handler) topUp(w http.ResponseWriter, r *http.Request) {
	var in moneyRequest
	if !decode(w, r, &in) {
		return
	}
	out, err := h.ledger.TopUpWallet(r.Context(), service.TopUpRequest{
		RequestID: in.RequestID,
		UserID:    mux.Vars(r)["user_id"],
		Amount:    in.Amount,
		Currency:  in.Currency,
		Gateway:   in.Gateway,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"transaction_id": out.TransactionID,
		"payment_id":     out.PaymentID,
	})
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	var in moneyRequest
	if !decode(w, r, &in) {
		return
	}
	state, err := h.ledger.Withdraw(r.Context(), service.WithdrawRequest{
		RequestID: in.RequestID,
		UserID:    mux.Vars(r)["user_id"],
		Amount:    in.Amount,
		Currency:  in.Currency,
		Reference: in.Reference,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewWallet(state))
}

type subscribeRequest struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	PlanID    string `json:"plan_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Gateway   string `json:"gateway,omitempty"`
}

func (h *handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var in subscribeRequest
	if !decode(w, r, &in) {
		return
	}
	out, err := h.ledger.Subscribe(r.Context(), service.SubscribeRequest(in))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"subscription_id": out.SubscriptionID,
		"payment_id":      out.PaymentID,
	})
}

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.ledger.Subscriptions(r.Context(), r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (h *handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.ledger.Subscription(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type requestOnly struct {
	RequestID string `json:"request_id"`
}

func (h *handler) cancel(w http.ResponseWriter, r *http.Request) {
	var in requestOnly
	if !decode(w, r, &in) {
		return
	}
	sub, err := h.ledger.CancelSubscription(r.Context(), in.RequestID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) confirmCancel(w http.ResponseWriter, r *http.Request) {
	var in requestOnly
	if !decode(w, r, &in) {
		return
	}
	sub, err := h.ledger.ConfirmCancellation(r.Context(), in.RequestID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.ledger.Payment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type notificationRequest struct {
	NotificationID      string `json:"notification_id"`
	Status              string `json:"status"`
	ExternalReferenceID string `json:"external_reference_id,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

func (h *handler) notify(w http.ResponseWriter, r *http.Request) {
	var in notificationRequest
	if !decode(w, r, &in) {
		return
	}
	p, err := h.ledger.ReportGatewayUpdate(r.Context(), service.GatewayUpdate{
		NotificationID:      in.NotificationID,
		PaymentID:           mux.Vars(r)["id"],
		Status:              in.Status,
		ExternalReferenceID: in.ExternalReferenceID,
		Reason:              in.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledger.Transaction(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type historyEntry struct {
	ID          string          `json:"id"`
	Type        command.Type    `json:"type"`
	Version     command.Version `json:"version"`
	CausationID string          `json:"causation_id,omitempty"`
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cmds, err := h.ledger.History(r.Context(), command.AggregateKind(vars["kind"]), vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]historyEntry, 0, len(cmds))
	for _, cmd := range cmds {
		entries = append(entries, historyEntry{
			ID:          cmd.ID(),
			Type:        cmd.Type(),
			Version:     cmd.Version(),
			CausationID: cmd.CausationID(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": entries})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "BAD_REQUEST", Message: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
