package paymaster

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Event is implemented by every state-change notification the engine emits.
type Event interface {
	EventName() string
}

// EventSink receives engine events. Sinks must not fail: settlement relies
// on event emission being unable to abort the call.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

type SignerAdded struct {
	Signer common.Address
}

func (SignerAdded) EventName() string { return "SignerAdded" }

type SignerRemoved struct {
	Signer common.Address
}

func (SignerRemoved) EventName() string { return "SignerRemoved" }

type DepositAdded struct {
	Sponsor    common.Address
	Amount     *big.Int
	NewBalance *big.Int
}

func (DepositAdded) EventName() string { return "DepositAdded" }

type WithdrawalRequested struct {
	Sponsor common.Address
	Amount  *big.Int
	ReadyAt time.Time
}

func (WithdrawalRequested) EventName() string { return "WithdrawalRequested" }

type WithdrawalExecuted struct {
	Sponsor common.Address
	To      common.Address
	Amount  *big.Int
}

func (WithdrawalExecuted) EventName() string { return "WithdrawalExecuted" }

type UserOperationSponsored struct {
	UserOpHash    common.Hash
	Sponsor       common.Address
	ActualGasCost *big.Int // charged amount after markup, clamped to balance
	Premium       *big.Int // markup portion of the charge
}

func (UserOperationSponsored) EventName() string { return "UserOperationSponsored" }

// SettlementShortfall signals that the computed cost exceeded the
// sponsor's remaining balance and only the remainder could be debited.
type SettlementShortfall struct {
	UserOpHash common.Hash
	Sponsor    common.Address
	Required   *big.Int
	Debited    *big.Int
}

func (SettlementShortfall) EventName() string { return "SettlementShortfall" }

// LogSink writes events to the context logger.
type LogSink struct{}

func (LogSink) Emit(ctx context.Context, event Event) {
	zerolog.Ctx(ctx).Info().
		Str("component", "paymaster").
		Interface("event", event).
		Msg(event.EventName())
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

// MultiSink fans an event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}
