package repository

import (
	"math/big"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerRepository persists the sponsor ledger journal. The in-process
// engine ledger stays authoritative; these rows exist for reconciliation
// and backoffice queries.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// RecordDeposit appends a positive journal row.
func (r *LedgerRepository) RecordDeposit(sponsor common.Address, amount *big.Int) (*domain.LedgerEntryModel, error) {
	entry := &domain.LedgerEntryModel{
		Sponsor:   sponsor.Hex(),
		EntryType: domain.LedgerEntryDeposit,
		AmountWei: domain.WeiToDecimal(amount),
	}
	if err := r.db.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordSettlement appends a negative journal row tied to a user
// operation hash.
func (r *LedgerRepository) RecordSettlement(sponsor common.Address, charged *big.Int, userOpHash common.Hash) (*domain.LedgerEntryModel, error) {
	hash := userOpHash.Hex()
	entry := &domain.LedgerEntryModel{
		Sponsor:    sponsor.Hex(),
		EntryType:  domain.LedgerEntrySettlement,
		AmountWei:  domain.WeiToDecimal(new(big.Int).Neg(charged)),
		UserOpHash: &hash,
	}
	if err := r.db.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// RecordWithdrawal appends a negative journal row for an executed
// withdrawal.
func (r *LedgerRepository) RecordWithdrawal(sponsor common.Address, amount *big.Int) (*domain.LedgerEntryModel, error) {
	entry := &domain.LedgerEntryModel{
		Sponsor:   sponsor.Hex(),
		EntryType: domain.LedgerEntryWithdrawal,
		AmountWei: domain.WeiToDecimal(new(big.Int).Neg(amount)),
	}
	if err := r.db.Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

// FindEntriesBySponsor returns a sponsor's journal, newest first.
func (r *LedgerRepository) FindEntriesBySponsor(sponsor common.Address) ([]*domain.LedgerEntryModel, error) {
	var entries []*domain.LedgerEntryModel
	err := r.db.
		Where("sponsor = ?", sponsor.Hex()).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// JournalBalance sums a sponsor's journal rows. At every observation
// point this must equal the engine ledger's balance.
func (r *LedgerRepository) JournalBalance(sponsor common.Address) (*big.Int, error) {
	var sum decimal.NullDecimal
	err := r.db.Model(&domain.LedgerEntryModel{}).
		Where("sponsor = ?", sponsor.Hex()).
		Select("SUM(amount_wei)").
		Scan(&sum).Error
	if err != nil {
		return nil, err
	}
	if !sum.Valid {
		return new(big.Int), nil
	}
	return sum.Decimal.BigInt(), nil
}

// CreateWithdrawalRequest records a new pending request.
func (r *LedgerRepository) CreateWithdrawalRequest(req *domain.WithdrawalRequestModel) error {
	return r.db.Create(req).Error
}

// MarkWithdrawalExecuted closes the open request for a sponsor.
func (r *LedgerRepository) MarkWithdrawalExecuted(sponsor common.Address, recipient common.Address) error {
	return r.db.Model(&domain.WithdrawalRequestModel{}).
		Where("sponsor = ? AND executed_at IS NULL", sponsor.Hex()).
		Updates(map[string]interface{}{
			"executed_at": gorm.Expr("CURRENT_TIMESTAMP"),
			"recipient":   recipient.Hex(),
		}).Error
}
