package paymaster

import (
	"context"
	"math/big"
	"time"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// RejectReason explains why the entry point refused an operation before
// execution. These are legitimate rejections, not structural errors.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectSignatureInvalid RejectReason = "signature invalid"
	RejectNotYetValid      RejectReason = "not yet valid"
	RejectExpired          RejectReason = "expired"
)

// OpResult is the outcome of pushing one operation through the
// validate/execute/settle lifecycle.
type OpResult struct {
	UserOpHash common.Hash
	Sponsored  bool
	Success    bool
	Reject     RejectReason
}

// EntryPoint sequences validate, execute and settle for each sponsored
// operation, exactly once and in that order, within one indivisible unit.
// It is the trusted collaborator the paymaster engine gates its calls on,
// and it, not the paymaster, enforces the validity window reported in
// the packed validation data.
type EntryPoint struct {
	address common.Address
	chainID *big.Int
	pm      *SponsorshipPaymaster
	now     func() time.Time
}

// NewEntryPoint builds the adapter for a paymaster. The address must be
// the one the paymaster was configured to trust.
func NewEntryPoint(address common.Address, chainID *big.Int, pm *SponsorshipPaymaster, now func() time.Time) *EntryPoint {
	if now == nil {
		now = time.Now
	}
	return &EntryPoint{address: address, chainID: chainID, pm: pm, now: now}
}

// Address returns the entry point's own address.
func (ep *EntryPoint) Address() common.Address { return ep.address }

// HandleUserOp runs one operation through the full lifecycle. execute
// performs the inner call and reports success; a reverted inner call
// still settles, charging the sponsor for gas consumed up to that point.
func (ep *EntryPoint) HandleUserOp(ctx context.Context, op *erc4337.PackedUserOperation, execute func() (gasCost *big.Int, feePerGas *big.Int, ok bool)) (*OpResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("component", "entry-point").Logger()

	userOpHash, err := op.Hash(ep.address, ep.chainID)
	if err != nil {
		return nil, err
	}
	result := &OpResult{UserOpHash: userOpHash}

	maxCost := op.RequiredPrefund()

	contextBlob, packedValidation, err := ep.pm.ValidatePaymasterUserOp(ctx, ep.address, op, userOpHash, maxCost)
	if err != nil {
		return nil, err
	}

	validation := erc4337.ParseValidationData(packedValidation)
	now := uint64(ep.now().Unix())
	switch {
	case validation.SigFailed():
		result.Reject = RejectSignatureInvalid
	case now < validation.ValidAfter:
		result.Reject = RejectNotYetValid
	case validation.ValidUntil != 0 && now > validation.ValidUntil:
		result.Reject = RejectExpired
	}
	if result.Reject != RejectNone {
		logger.Debug().
			Str("user_op_hash", userOpHash.Hex()).
			Str("reason", string(result.Reject)).
			Msg("operation rejected before execution")
		return result, nil
	}

	gasCost, feePerGas, ok := execute()
	result.Success = ok

	mode := erc4337.PostOpModeSucceeded
	if !ok {
		mode = erc4337.PostOpModeReverted
	}

	if err := ep.pm.PostOp(ctx, ep.address, mode, contextBlob, gasCost, feePerGas); err != nil {
		return nil, err
	}
	result.Sponsored = true

	return result, nil
}
