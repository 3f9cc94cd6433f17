package paymaster

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferFunc moves withdrawn funds out of the paymaster to a recipient.
type TransferFunc func(ctx context.Context, to common.Address, amount *big.Int) error

// PendingWithdrawal is a sponsor's outstanding two-step withdrawal request.
type PendingWithdrawal struct {
	Amount      *big.Int
	RequestedAt time.Time
}

// ReadyAt returns the first instant the request can be executed.
func (p *PendingWithdrawal) ReadyAt(delay time.Duration) time.Time {
	return p.RequestedAt.Add(delay)
}

type sponsorAccount struct {
	balance *big.Int
	pending *PendingWithdrawal
}

// LedgerConfig configures the deposit ledger.
type LedgerConfig struct {
	// WithdrawalDelay is the window between requesting and executing a
	// withdrawal. It is the primary defense against a sponsor draining a
	// deposit that validation has already relied upon via maxCost.
	WithdrawalDelay time.Duration
	// MinimumDeposit gates sponsorability at validation time. The ledger
	// itself never enforces it on deposits or withdrawals.
	MinimumDeposit *big.Int
	// Transfer pays out executed withdrawals. Nil means withdrawals are
	// recorded but no funds move (tests).
	Transfer TransferFunc
	// Now is the clock; defaults to time.Now.
	Now func() time.Time
	// Events receives ledger events; defaults to a no-op sink.
	Events EventSink
}

// DepositLedger is the per-sponsor balance accounting engine. Every
// exported method runs to completion under the ledger lock, mirroring the
// whole-call atomicity the execution environment guarantees on chain:
// invariants hold before each return, there is no fixing up afterward.
type DepositLedger struct {
	mu       sync.Mutex
	accounts map[common.Address]*sponsorAccount

	delay      time.Duration
	minDeposit *big.Int
	transfer   TransferFunc
	now        func() time.Time
	events     EventSink
}

// NewDepositLedger constructs an empty ledger.
func NewDepositLedger(cfg LedgerConfig) *DepositLedger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Events == nil {
		cfg.Events = nopSink{}
	}
	if cfg.MinimumDeposit == nil {
		cfg.MinimumDeposit = new(big.Int)
	}
	return &DepositLedger{
		accounts:   make(map[common.Address]*sponsorAccount),
		delay:      cfg.WithdrawalDelay,
		minDeposit: cfg.MinimumDeposit,
		transfer:   cfg.Transfer,
		now:        cfg.Now,
		events:     cfg.Events,
	}
}

func (l *DepositLedger) account(sponsor common.Address) *sponsorAccount {
	acc, ok := l.accounts[sponsor]
	if !ok {
		acc = &sponsorAccount{balance: new(big.Int)}
		l.accounts[sponsor] = acc
	}
	return acc
}

// DepositFor credits a sponsor's balance. Anyone may fund any sponsor;
// the account is created implicitly on first deposit.
func (l *DepositLedger) DepositFor(ctx context.Context, sponsor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidDepositAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(sponsor)
	acc.balance.Add(acc.balance, amount)

	l.events.Emit(ctx, DepositAdded{
		Sponsor:    sponsor,
		Amount:     new(big.Int).Set(amount),
		NewBalance: new(big.Int).Set(acc.balance),
	})
	return nil
}

// BalanceOf returns the sponsor's current balance.
func (l *DepositLedger) BalanceOf(sponsor common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, ok := l.accounts[sponsor]; ok {
		return new(big.Int).Set(acc.balance)
	}
	return new(big.Int)
}

// PendingWithdrawalOf returns the sponsor's outstanding request, if any.
func (l *DepositLedger) PendingWithdrawalOf(sponsor common.Address) (*PendingWithdrawal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[sponsor]
	if !ok || acc.pending == nil {
		return nil, false
	}
	return &PendingWithdrawal{
		Amount:      new(big.Int).Set(acc.pending.Amount),
		RequestedAt: acc.pending.RequestedAt,
	}, true
}

// RequestWithdrawal records a withdrawal request for the calling sponsor.
// The amount may not exceed the balance at request time, and only one
// request can be outstanding.
func (l *DepositLedger) RequestWithdrawal(ctx context.Context, sponsor common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidDepositAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(sponsor)
	if acc.pending != nil {
		return ErrWithdrawalAlreadyPending
	}
	if amount.Cmp(acc.balance) > 0 {
		return fmt.Errorf("%w: requested %s, balance %s",
			ErrInsufficientBalance, amount, acc.balance)
	}

	acc.pending = &PendingWithdrawal{
		Amount:      new(big.Int).Set(amount),
		RequestedAt: l.now(),
	}

	l.events.Emit(ctx, WithdrawalRequested{
		Sponsor: sponsor,
		Amount:  new(big.Int).Set(amount),
		ReadyAt: acc.pending.ReadyAt(l.delay),
	})
	return nil
}

// ExecuteWithdrawal completes a matured request: debits the balance,
// clears the request and transfers the funds to the recipient. Settlement
// debits between request and execution can shrink the balance below the
// requested amount; the payout is capped at what remains so the balance
// never goes negative.
func (l *DepositLedger) ExecuteWithdrawal(ctx context.Context, sponsor, to common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[sponsor]
	if !ok || acc.pending == nil {
		return ErrNoPendingWithdrawal
	}

	readyAt := acc.pending.ReadyAt(l.delay)
	if now := l.now(); now.Before(readyAt) {
		return fmt.Errorf("%w: ready at %s, now %s",
			ErrWithdrawalDelayNotElapsed, readyAt.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}

	amount := acc.pending.Amount
	if amount.Cmp(acc.balance) > 0 {
		amount = new(big.Int).Set(acc.balance)
	}

	acc.balance.Sub(acc.balance, amount)
	acc.pending = nil

	if l.transfer != nil {
		if err := l.transfer(ctx, to, amount); err != nil {
			return fmt.Errorf("withdrawal transfer failed: %w", err)
		}
	}

	l.events.Emit(ctx, WithdrawalExecuted{
		Sponsor: sponsor,
		To:      to,
		Amount:  new(big.Int).Set(amount),
	})
	return nil
}

// CanSponsor is the validation-time balance policy: the balance must
// cover the conservative maxCost bound and sit above the configured
// minimum deposit. Actual cost is only reconciled at settlement, so two
// operations racing against the same balance can both pass this check.
func (l *DepositLedger) CanSponsor(sponsor common.Address, maxCost *big.Int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.accounts[sponsor]
	if !ok {
		return false
	}
	if acc.balance.Cmp(maxCost) < 0 {
		return false
	}
	return acc.balance.Cmp(l.minDeposit) >= 0
}

// debit charges a settlement cost against the sponsor, clamped so the
// balance never goes negative. Returns what was actually debited and any
// shortfall. It never fails: the settlement path must not abort.
func (l *DepositLedger) debit(sponsor common.Address, amount *big.Int) (debited, shortfall *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(sponsor)

	debited = new(big.Int).Set(amount)
	shortfall = new(big.Int)
	if debited.Cmp(acc.balance) > 0 {
		shortfall.Sub(debited, acc.balance)
		debited.Set(acc.balance)
	}

	acc.balance.Sub(acc.balance, debited)
	return debited, shortfall
}
