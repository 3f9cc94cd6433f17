package domain

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntryType discriminates the rows of the sponsor ledger journal.
type LedgerEntryType string

const (
	LedgerEntryDeposit    LedgerEntryType = "deposit"
	LedgerEntrySettlement LedgerEntryType = "settlement"
	LedgerEntryWithdrawal LedgerEntryType = "withdrawal"
)

// LedgerEntryModel is one journal row: a signed movement on a sponsor's
// deposit balance. Deposits are positive, settlements and withdrawals
// negative, so a sponsor's balance is the sum of its rows.
type LedgerEntryModel struct {
	ID         uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Sponsor    string          `gorm:"type:varchar(42);not null;index"`
	EntryType  LedgerEntryType `gorm:"type:varchar(16);not null"`
	AmountWei  decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	UserOpHash *string         `gorm:"type:varchar(66)"`
	CreatedAt  time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (LedgerEntryModel) TableName() string { return "ledger_entries" }

// Amount returns the movement in wei.
func (m *LedgerEntryModel) Amount() *big.Int {
	return m.AmountWei.BigInt()
}

// WithdrawalRequestModel records a sponsor's two-step withdrawal request
// for backoffice visibility; the engine ledger remains authoritative.
type WithdrawalRequestModel struct {
	ID          uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Sponsor     string          `gorm:"type:varchar(42);not null;index"`
	AmountWei   decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	RequestedAt time.Time       `gorm:"not null"`
	ReadyAt     time.Time       `gorm:"not null"`
	ExecutedAt  *time.Time
	Recipient   *string   `gorm:"type:varchar(42)"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (WithdrawalRequestModel) TableName() string { return "withdrawal_requests" }

// WeiToDecimal converts a wei amount for storage in a numeric column.
func WeiToDecimal(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, 0)
}

// WeiToEth converts wei to an ETH-denominated decimal for API payloads.
func WeiToEth(wei *big.Int) decimal.Decimal {
	return WeiToDecimal(wei).Shift(-18)
}

// EthToWei converts an ETH-denominated decimal to wei, truncating any
// sub-wei fraction.
func EthToWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(18).Truncate(0).BigInt()
}
