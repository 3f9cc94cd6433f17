package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
)

// DepositService fronts the engine ledger for the HTTP surface and
// mirrors every movement into the persistent journal. The engine stays
// authoritative; the journal is for reconciliation and history.
type DepositService struct {
	ledger  *paymaster.DepositLedger
	journal *repository.LedgerRepository
}

func NewDepositService(ledger *paymaster.DepositLedger, journal *repository.LedgerRepository) *DepositService {
	return &DepositService{ledger: ledger, journal: journal}
}

func (s *DepositService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "deposit").Logger()
	return &l
}

// Deposit credits the sponsor in the engine ledger and journals the row.
func (s *DepositService) Deposit(ctx context.Context, sponsor common.Address, amount *big.Int) (*big.Int, error) {
	if err := s.ledger.DepositFor(ctx, sponsor, amount); err != nil {
		if errors.Is(err, paymaster.ErrInvalidDepositAmount) {
			return nil, domain.NewError(domain.ErrorCodeParameterInvalid, err,
				domain.WithMsg("deposit amount must be positive"))
		}
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	if s.journal != nil {
		if _, err := s.journal.RecordDeposit(sponsor, amount); err != nil {
			s.logger(ctx).Error().Err(err).
				Str("sponsor", sponsor.Hex()).
				Msg("failed to journal deposit")
		}
	}

	return s.ledger.BalanceOf(sponsor), nil
}

// Balance returns the sponsor's live balance and pending withdrawal.
func (s *DepositService) Balance(sponsor common.Address) (*big.Int, *paymaster.PendingWithdrawal) {
	pending, _ := s.ledger.PendingWithdrawalOf(sponsor)
	return s.ledger.BalanceOf(sponsor), pending
}

// History returns the sponsor's journal rows, newest first.
func (s *DepositService) History(sponsor common.Address) ([]*domain.LedgerEntryModel, error) {
	if s.journal == nil {
		return nil, nil
	}
	entries, err := s.journal.FindEntriesBySponsor(sponsor)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return entries, nil
}

// RequestWithdrawal opens the sponsor's two-step withdrawal and records
// it for backoffice visibility. Returns when the request matures.
func (s *DepositService) RequestWithdrawal(ctx context.Context, sponsor common.Address, amount *big.Int, delay time.Duration) (time.Time, error) {
	if err := s.ledger.RequestWithdrawal(ctx, sponsor, amount); err != nil {
		switch {
		case errors.Is(err, paymaster.ErrInvalidDepositAmount):
			return time.Time{}, domain.NewError(domain.ErrorCodeParameterInvalid, err,
				domain.WithMsg("withdrawal amount must be positive"))
		case errors.Is(err, paymaster.ErrWithdrawalAlreadyPending):
			return time.Time{}, domain.NewError(domain.ErrorCodeParameterInvalid, err,
				domain.WithMsg("a withdrawal is already pending"))
		case errors.Is(err, paymaster.ErrInsufficientBalance):
			return time.Time{}, domain.NewError(domain.ErrorCodeParameterInvalid, err,
				domain.WithMsg("withdrawal exceeds balance"))
		default:
			return time.Time{}, domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
	}

	pending, _ := s.ledger.PendingWithdrawalOf(sponsor)
	readyAt := pending.ReadyAt(delay)

	if s.journal != nil {
		err := s.journal.CreateWithdrawalRequest(&domain.WithdrawalRequestModel{
			Sponsor:     sponsor.Hex(),
			AmountWei:   domain.WeiToDecimal(amount),
			RequestedAt: pending.RequestedAt,
			ReadyAt:     readyAt,
		})
		if err != nil {
			s.logger(ctx).Error().Err(err).
				Str("sponsor", sponsor.Hex()).
				Msg("failed to journal withdrawal request")
		}
	}

	return readyAt, nil
}

// ExecuteWithdrawal completes a matured request, paying out to the
// recipient, and journals the movement.
func (s *DepositService) ExecuteWithdrawal(ctx context.Context, sponsor, to common.Address) (*big.Int, error) {
	if _, ok := s.ledger.PendingWithdrawalOf(sponsor); !ok {
		return nil, domain.NewError(domain.ErrorCodeResourceNotFound, paymaster.ErrNoPendingWithdrawal,
			domain.WithMsg("no pending withdrawal"))
	}

	balanceBefore := s.ledger.BalanceOf(sponsor)
	if err := s.ledger.ExecuteWithdrawal(ctx, sponsor, to); err != nil {
		switch {
		case errors.Is(err, paymaster.ErrNoPendingWithdrawal):
			return nil, domain.NewError(domain.ErrorCodeResourceNotFound, err,
				domain.WithMsg("no pending withdrawal"))
		case errors.Is(err, paymaster.ErrWithdrawalDelayNotElapsed):
			return nil, domain.NewError(domain.ErrorCodeParameterInvalid, err,
				domain.WithMsg("withdrawal delay has not elapsed"))
		default:
			return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
	}

	// Payout can be clamped below the requested amount if settlements
	// landed during the delay; derive it from the balance movement.
	paid := new(big.Int).Sub(balanceBefore, s.ledger.BalanceOf(sponsor))

	if s.journal != nil {
		if _, err := s.journal.RecordWithdrawal(sponsor, paid); err != nil {
			s.logger(ctx).Error().Err(err).
				Str("sponsor", sponsor.Hex()).
				Msg("failed to journal withdrawal")
		}
		if err := s.journal.MarkWithdrawalExecuted(sponsor, to); err != nil {
			s.logger(ctx).Error().Err(err).
				Str("sponsor", sponsor.Hex()).
				Msg("failed to close withdrawal request row")
		}
	}

	return paid, nil
}

// SettlementJournal is an event sink that mirrors engine settlements
// into the persistent journal and retires the matching inflight entry.
type SettlementJournal struct {
	journal  *repository.LedgerRepository
	inflight *repository.InflightCacheRepository
}

func NewSettlementJournal(journal *repository.LedgerRepository, inflight *repository.InflightCacheRepository) *SettlementJournal {
	return &SettlementJournal{journal: journal, inflight: inflight}
}

// Emit implements paymaster.EventSink. Journal failures are logged, not
// returned: nothing on the settlement path may fail.
func (j *SettlementJournal) Emit(ctx context.Context, event paymaster.Event) {
	settled, ok := event.(paymaster.UserOperationSponsored)
	if !ok {
		return
	}

	log := zerolog.Ctx(ctx).With().Str("service", "settlement-journal").Logger()

	if j.journal != nil {
		if _, err := j.journal.RecordSettlement(settled.Sponsor, settled.ActualGasCost, settled.UserOpHash); err != nil {
			log.Error().Err(err).
				Str("user_op_hash", settled.UserOpHash.Hex()).
				Msg("failed to journal settlement")
		}
	}

	if j.inflight != nil {
		if err := j.inflight.Clear(ctx, settled.UserOpHash); err != nil {
			log.Warn().Err(err).
				Str("user_op_hash", settled.UserOpHash.Hex()).
				Msg("failed to clear inflight sponsorship")
		}
	}
}
