package command

import (
	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/money"
)

const (
	TypeAddWalletAsset      Type = "wallet.asset.add"
	TypeSubtractWalletAsset Type = "wallet.asset.subtract"
)

// AddWalletAsset credits a user's wallet. Version v2 added referenceID; v1
// payloads are upcast by the codec.
type AddWalletAsset struct {
	header
	money.Money
	referenceID string
}

func NewAddWalletAsset(meta Meta, userID string, amount money.Money, referenceID string) (AddWalletAsset, error) {
	c := AddWalletAsset{Money: amount}
	var err error
	if c.referenceID, err = walletInputs(userID, amount, referenceID); err != nil {
		return AddWalletAsset{}, err
	}
	if c.header, err = newHeader(meta, TypeAddWalletAsset, V2, AggregateWallet, optional(userID)); err != nil {
		return AddWalletAsset{}, err
	}
	return c, nil
}

func (c AddWalletAsset) UserID() string      { return c.aggregateID }
func (c AddWalletAsset) ReferenceID() string { return c.referenceID }

// SubtractWalletAsset debits a user's wallet.
type SubtractWalletAsset struct {
	header
	money.Money
	referenceID string
}

func NewSubtractWalletAsset(meta Meta, userID string, amount money.Money, referenceID string) (SubtractWalletAsset, error) {
	c := SubtractWalletAsset{Money: amount}
	var err error
	if c.referenceID, err = walletInputs(userID, amount, referenceID); err != nil {
		return SubtractWalletAsset{}, err
	}
	if c.header, err = newHeader(meta, TypeSubtractWalletAsset, V1, AggregateWallet, optional(userID)); err != nil {
		return SubtractWalletAsset{}, err
	}
	return c, nil
}

func (c SubtractWalletAsset) UserID() string      { return c.aggregateID }
func (c SubtractWalletAsset) ReferenceID() string { return c.referenceID }

func walletInputs(userID string, amount money.Money, referenceID string) (string, error) {
	if _, err := required("user_id", userID); err != nil {
		return "", err
	}
	if amount.IsZero() {
		return "", apperrors.Validation("amount", "is required")
	}
	return required("reference_id", referenceID)
}
