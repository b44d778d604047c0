package codec

import (
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/status"
)

type createPaymentV1 struct {
	PaymentID   string `json:"payment_id"`
	UserID      string `json:"user_id"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	PaymentType string `json:"payment_type"`
	Gateway     string `json:"gateway"`
	ReferenceID string `json:"reference_id,omitempty"`
}

type setPaymentErrorV1 struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}

type confirmPaymentV1 struct {
	PaymentID           string `json:"payment_id"`
	ExternalReferenceID string `json:"external_reference_id,omitempty"`
}

type updatePaymentStatusV1 struct {
	PaymentID           string `json:"payment_id"`
	Status              string `json:"status"`
	ExternalReferenceID string `json:"external_reference_id,omitempty"`
}

func registerPayment(c *Codec) {
	register(c, command.TypeCreatePaymentTransaction, command.V1,
		func(cmd command.CreatePaymentTransaction) createPaymentV1 {
			return createPaymentV1{
				PaymentID:   cmd.PaymentID(),
				UserID:      cmd.UserID(),
				Status:      string(cmd.Status()),
				Amount:      cmd.Amount().String(),
				Currency:    cmd.Currency(),
				PaymentType: string(cmd.PaymentType()),
				Gateway:     cmd.Gateway(),
				ReferenceID: cmd.ReferenceID(),
			}
		},
		func(meta command.Meta, w createPaymentV1) (command.CreatePaymentTransaction, error) {
			amount, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.CreatePaymentTransaction{}, err
			}
			return command.NewCreatePaymentTransaction(meta, w.PaymentID, w.UserID, status.PaymentStatus(w.Status), amount, command.PaymentType(w.PaymentType), w.Gateway, w.ReferenceID)
		},
	)
	register(c, command.TypeSetPaymentTransactionError, command.V1,
		func(cmd command.SetPaymentTransactionError) setPaymentErrorV1 {
			return setPaymentErrorV1{TransactionID: cmd.TransactionID(), Reason: cmd.Reason()}
		},
		func(meta command.Meta, w setPaymentErrorV1) (command.SetPaymentTransactionError, error) {
			return command.NewSetPaymentTransactionError(meta, w.TransactionID, w.Reason)
		},
	)
	register(c, command.TypeConfirmPaymentTransaction, command.V1,
		func(cmd command.ConfirmPaymentTransaction) confirmPaymentV1 {
			return confirmPaymentV1{PaymentID: cmd.PaymentID(), ExternalReferenceID: cmd.ExternalReferenceID()}
		},
		func(meta command.Meta, w confirmPaymentV1) (command.ConfirmPaymentTransaction, error) {
			return command.NewConfirmPaymentTransaction(meta, w.PaymentID, w.ExternalReferenceID)
		},
	)
	register(c, command.TypeUpdatePaymentStatus, command.V1,
		func(cmd command.UpdatePaymentStatus) updatePaymentStatusV1 {
			return updatePaymentStatusV1{
				PaymentID:           cmd.PaymentID(),
				Status:              string(cmd.Status()),
				ExternalReferenceID: cmd.ExternalReferenceID(),
			}
		},
		func(meta command.Meta, w updatePaymentStatusV1) (command.UpdatePaymentStatus, error) {
			return command.NewUpdatePaymentStatus(meta, w.PaymentID, status.PaymentStatus(w.Status), w.ExternalReferenceID)
		},
	)
}

// walletAssetV1 predates reference ids; decoding uses the command id so that
// a legacy credit can still be deduplicated.
type walletAssetV1 struct {
	UserID   string `json:"user_id"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type walletAssetV2 struct {
	UserID      string `json:"user_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	ReferenceID string `json:"reference_id"`
}

func registerWallet(c *Codec) {
	register(c, command.TypeAddWalletAsset, command.V1,
		nil,
		func(meta command.Meta, w walletAssetV1) (command.AddWalletAsset, error) {
			amount, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.AddWalletAsset{}, err
			}
			return command.NewAddWalletAsset(meta, w.UserID, amount, meta.ID)
		},
	)
	register(c, command.TypeAddWalletAsset, command.V2,
		func(cmd command.AddWalletAsset) walletAssetV2 {
			return walletAssetV2{UserID: cmd.UserID(), Amount: cmd.Amount().String(), Currency: cmd.Currency(), ReferenceID: cmd.ReferenceID()}
		},
		func(meta command.Meta, w walletAssetV2) (command.AddWalletAsset, error) {
			amount, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.AddWalletAsset{}, err
			}
			return command.NewAddWalletAsset(meta, w.UserID, amount, w.ReferenceID)
		},
	)
	register(c, command.TypeSubtractWalletAsset, command.V1,
		func(cmd command.SubtractWalletAsset) walletAssetV2 {
			return walletAssetV2{UserID: cmd.UserID(), Amount: cmd.Amount().String(), Currency: cmd.Currency(), ReferenceID: cmd.ReferenceID()}
		},
		func(meta command.Meta, w walletAssetV2) (command.SubtractWalletAsset, error) {
			amount, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.SubtractWalletAsset{}, err
			}
			return command.NewSubtractWalletAsset(meta, w.UserID, amount, w.ReferenceID)
		},
	)
}

type createSubscriptionV1 struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	PlanID         string `json:"plan_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
}

type subscriptionStatusV1 struct {
	SubscriptionID string `json:"subscription_id"`
	Status         string `json:"status"`
}

type subscriptionRefV1 struct {
	SubscriptionID string `json:"subscription_id"`
}

type renewSubscriptionV1 struct {
	SubscriptionID string `json:"subscription_id"`
	PaymentID      string `json:"payment_id"`
}

func registerSubscription(c *Codec) {
	register(c, command.TypeCreateSubscription, command.V1,
		func(cmd command.CreateSubscription) createSubscriptionV1 {
			return createSubscriptionV1{
				SubscriptionID: cmd.SubscriptionID(),
				UserID:         cmd.UserID(),
				PlanID:         cmd.PlanID(),
				Amount:         cmd.Amount().String(),
				Currency:       cmd.Currency(),
			}
		},
		func(meta command.Meta, w createSubscriptionV1) (command.CreateSubscription, error) {
			price, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.CreateSubscription{}, err
			}
			return command.NewCreateSubscription(meta, w.SubscriptionID, w.UserID, w.PlanID, price)
		},
	)
	register(c, command.TypeUpdateSubscriptionStatus, command.V1,
		func(cmd command.UpdateSubscriptionStatus) subscriptionStatusV1 {
			return subscriptionStatusV1{SubscriptionID: cmd.SubscriptionID(), Status: string(cmd.Status())}
		},
		func(meta command.Meta, w subscriptionStatusV1) (command.UpdateSubscriptionStatus, error) {
			return command.NewUpdateSubscriptionStatus(meta, w.SubscriptionID, status.SubscriptionStatus(w.Status))
		},
	)
	register(c, command.TypeCancelSubscription, command.V1,
		func(cmd command.CancelSubscription) subscriptionRefV1 {
			return subscriptionRefV1{SubscriptionID: cmd.SubscriptionID()}
		},
		func(meta command.Meta, w subscriptionRefV1) (command.CancelSubscription, error) {
			return command.NewCancelSubscription(meta, w.SubscriptionID)
		},
	)
	register(c, command.TypeConfirmSubscriptionCancellation, command.V1,
		func(cmd command.ConfirmSubscriptionCancellation) subscriptionRefV1 {
			return subscriptionRefV1{SubscriptionID: cmd.SubscriptionID()}
		},
		func(meta command.Meta, w subscriptionRefV1) (command.ConfirmSubscriptionCancellation, error) {
			return command.NewConfirmSubscriptionCancellation(meta, w.SubscriptionID)
		},
	)
	register(c, command.TypeRenewSubscription, command.V1,
		func(cmd command.RenewSubscription) renewSubscriptionV1 {
			return renewSubscriptionV1{SubscriptionID: cmd.SubscriptionID(), PaymentID: cmd.PaymentID()}
		},
		func(meta command.Meta, w renewSubscriptionV1) (command.RenewSubscription, error) {
			return command.NewRenewSubscription(meta, w.SubscriptionID, w.PaymentID)
		},
	)
}

type createTransactionV1 struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	PaymentID     string `json:"payment_id"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
}

type transactionSubstatusV1 struct {
	TransactionID string `json:"transaction_id"`
	Substatus     string `json:"substatus"`
}

func registerTransaction(c *Codec) {
	register(c, command.TypeCreateTransaction, command.V1,
		func(cmd command.CreateTransaction) createTransactionV1 {
			return createTransactionV1{
				TransactionID: cmd.TransactionID(),
				UserID:        cmd.UserID(),
				PaymentID:     cmd.PaymentID(),
				Amount:        cmd.Amount().String(),
				Currency:      cmd.Currency(),
			}
		},
		func(meta command.Meta, w createTransactionV1) (command.CreateTransaction, error) {
			amount, err := money.Parse(w.Amount, w.Currency)
			if err != nil {
				return command.CreateTransaction{}, err
			}
			return command.NewCreateTransaction(meta, w.TransactionID, w.UserID, w.PaymentID, amount)
		},
	)
	register(c, command.TypeUpdateTransactionSubstatus, command.V1,
		func(cmd command.UpdateTransactionSubstatus) transactionSubstatusV1 {
			return transactionSubstatusV1{TransactionID: cmd.TransactionID(), Substatus: string(cmd.Substatus())}
		},
		func(meta command.Meta, w transactionSubstatusV1) (command.UpdateTransactionSubstatus, error) {
			return command.NewUpdateTransactionSubstatus(meta, w.TransactionID, status.TransactionSubstatus(w.Substatus))
		},
	)
}
