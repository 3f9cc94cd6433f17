// Package paymaster implements a sponsorship paymaster engine: it decides
// during validation whether a user operation should be sponsored against a
// sponsor's deposit, and reconciles actual gas cost against that deposit
// at settlement.
package paymaster

import (
	"context"
	"fmt"
	"math/big"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
)

// PriceMarkupDenominator is the fixed-point scale of the price markup:
// 1e6 means no markup, 1.2e6 a 20% premium.
const PriceMarkupDenominator = 1_000_000

// MaxPriceMarkup caps the premium at 100%.
const MaxPriceMarkup = 2 * PriceMarkupDenominator

// DefaultUnaccountedGas covers the gas the settlement callback itself
// consumes, which the entry point cannot meter after the fact.
const DefaultUnaccountedGas = 11_000

// Config configures the sponsorship paymaster engine.
type Config struct {
	// Address is the paymaster's own identity; part of every sponsorship
	// digest so signatures cannot be replayed against another deployment.
	Address common.Address
	// EntryPoint is the only caller allowed to validate and settle.
	EntryPoint common.Address
	// ChainID is part of every sponsorship digest.
	ChainID *big.Int
	// UnaccountedGas is added to measured cost at settlement; defaults to
	// DefaultUnaccountedGas when zero.
	UnaccountedGas uint64
}

// SponsorshipPaymaster is the validation and settlement engine backed by
// a signer registry and a sponsor deposit ledger.
type SponsorshipPaymaster struct {
	cfg     Config
	signers *SignerRegistry
	ledger  *DepositLedger
	events  EventSink
}

// NewSponsorshipPaymaster wires the engine together.
func NewSponsorshipPaymaster(cfg Config, signers *SignerRegistry, ledger *DepositLedger, events EventSink) *SponsorshipPaymaster {
	if cfg.UnaccountedGas == 0 {
		cfg.UnaccountedGas = DefaultUnaccountedGas
	}
	if events == nil {
		events = nopSink{}
	}
	return &SponsorshipPaymaster{
		cfg:     cfg,
		signers: signers,
		ledger:  ledger,
		events:  events,
	}
}

// Address returns the paymaster's own address.
func (p *SponsorshipPaymaster) Address() common.Address { return p.cfg.Address }

// EntryPoint returns the trusted entry point address.
func (p *SponsorshipPaymaster) EntryPoint() common.Address { return p.cfg.EntryPoint }

// ChainID returns the chain the engine signs and validates for.
func (p *SponsorshipPaymaster) ChainID() *big.Int { return new(big.Int).Set(p.cfg.ChainID) }

// Ledger exposes the deposit ledger.
func (p *SponsorshipPaymaster) Ledger() *DepositLedger { return p.ledger }

// Signers exposes the signer registry.
func (p *SponsorshipPaymaster) Signers() *SignerRegistry { return p.signers }

func (p *SponsorshipPaymaster) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "sponsorship-paymaster").Logger()
	return &l
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
	uint48Type, _  = abi.NewType("uint48", "", nil)
	uint32Type, _  = abi.NewType("uint32", "", nil)
)

var sponsorshipDigestArgs = abi.Arguments{
	{Type: addressType}, // sender
	{Type: uint256Type}, // nonce
	{Type: bytes32Type}, // keccak(initCode)
	{Type: bytes32Type}, // keccak(callData)
	{Type: bytes32Type}, // accountGasLimits
	{Type: uint256Type}, // paymaster validation gas
	{Type: uint256Type}, // paymaster postOp gas
	{Type: uint256Type}, // preVerificationGas
	{Type: bytes32Type}, // gasFees
	{Type: uint256Type}, // chain id
	{Type: addressType}, // paymaster address
	{Type: addressType}, // sponsor id
	{Type: uint48Type},  // validUntil
	{Type: uint48Type},  // validAfter
	{Type: uint32Type},  // price markup
}

// SponsorshipDigest computes the canonical digest a registered signer
// signs: every economically relevant field of the operation, the chain
// id, this paymaster's address and every paymaster-data field preceding
// the signature. The signature itself is excluded, so it covers the
// validity window and cannot be replayed across operations or windows.
func (p *SponsorshipPaymaster) SponsorshipDigest(op *erc4337.PackedUserOperation, data *SponsorshipData) (common.Hash, error) {
	packed, err := sponsorshipDigestArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.AccountGasLimits,
		op.PaymasterVerificationGasLimit(),
		op.PaymasterPostOpGasLimit(),
		op.PreVerificationGas,
		op.GasFees,
		p.cfg.ChainID,
		p.cfg.Address,
		data.SponsorID,
		new(big.Int).SetUint64(data.ValidUntil),
		new(big.Int).SetUint64(data.ValidAfter),
		data.PriceMarkup,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode sponsorship digest: %w", err)
	}
	return crypto.Keccak256Hash(packed), nil
}

// ValidatePaymasterUserOp is the pre-execution validation call. Only the
// entry point may invoke it. Malformed paymaster data and an underfunded
// sponsor abort hard; a bad or unregistered signature is soft-failed
// through the packed validation data so the entry point can reject the
// operation without a revert. No ledger debit happens here: cost is
// reserved conceptually against maxCost and charged at settlement.
func (p *SponsorshipPaymaster) ValidatePaymasterUserOp(ctx context.Context, caller common.Address, op *erc4337.PackedUserOperation, userOpHash common.Hash, maxCost *big.Int) ([]byte, *big.Int, error) {
	if caller != p.cfg.EntryPoint {
		return nil, nil, fmt.Errorf("%w: %s", ErrCallerNotEntryPoint, caller.Hex())
	}

	data, err := ParseSponsorshipData(op.PaymasterData())
	if err != nil {
		return nil, nil, err
	}

	if data.PriceMarkup < PriceMarkupDenominator || data.PriceMarkup > MaxPriceMarkup {
		return nil, nil, fmt.Errorf("%w: %d", ErrInvalidPriceMarkup, data.PriceMarkup)
	}

	digest, err := p.SponsorshipDigest(op, data)
	if err != nil {
		return nil, nil, err
	}

	signer, ok := p.signers.VerifySponsorshipSignature(digest, data.Signature)
	if !ok {
		p.logger(ctx).Debug().
			Str("user_op_hash", userOpHash.Hex()).
			Str("recovered_signer", signer.Hex()).
			Msg("sponsorship signature rejected")
		return nil, erc4337.PackValidationData(true, data.ValidUntil, data.ValidAfter), nil
	}

	if !p.ledger.CanSponsor(data.SponsorID, maxCost) {
		return nil, nil, fmt.Errorf("%w: sponsor %s, max cost %s",
			ErrSponsorUnderfunded, data.SponsorID.Hex(), maxCost)
	}

	settlementCtx := &SettlementContext{
		Sponsor:     data.SponsorID,
		UserOpHash:  userOpHash,
		PriceMarkup: data.PriceMarkup,
		MaxCost:     new(big.Int).Set(maxCost),
	}

	return settlementCtx.Encode(), erc4337.PackValidationData(false, data.ValidUntil, data.ValidAfter), nil
}

// PostOp is the post-execution settlement call. Only the entry point may
// invoke it. The charge is the measured gas cost plus the unaccounted-gas
// allowance at the actual fee, scaled by the sponsor's price markup, and
// is clamped to the sponsor's remaining balance: the paymaster fronts at
// most its own deposit and never goes into debt. A reverted inner
// operation settles identically, and nothing on this path may fail.
func (p *SponsorshipPaymaster) PostOp(ctx context.Context, caller common.Address, mode erc4337.PostOpMode, contextBlob []byte, actualGasCost, actualFeePerGas *big.Int) error {
	if caller != p.cfg.EntryPoint {
		return fmt.Errorf("%w: %s", ErrCallerNotEntryPoint, caller.Hex())
	}

	sctx := DecodeSettlementContext(contextBlob)

	overhead := new(big.Int).SetUint64(p.cfg.UnaccountedGas)
	if actualFeePerGas != nil {
		overhead.Mul(overhead, actualFeePerGas)
	} else {
		overhead.SetUint64(0)
	}

	total := new(big.Int).Set(overhead)
	if actualGasCost != nil {
		total.Add(total, actualGasCost)
	}

	markup := uint64(sctx.PriceMarkup)
	if markup < PriceMarkupDenominator {
		markup = PriceMarkupDenominator
	}
	charged := new(big.Int).Mul(total, new(big.Int).SetUint64(markup))
	charged.Div(charged, big.NewInt(PriceMarkupDenominator))
	premium := new(big.Int).Sub(charged, total)

	debited, shortfall := p.ledger.debit(sctx.Sponsor, charged)

	p.events.Emit(ctx, UserOperationSponsored{
		UserOpHash:    sctx.UserOpHash,
		Sponsor:       sctx.Sponsor,
		ActualGasCost: debited,
		Premium:       premium,
	})

	if shortfall.Sign() > 0 {
		p.logger(ctx).Warn().
			Str("sponsor", sctx.Sponsor.Hex()).
			Str("user_op_hash", sctx.UserOpHash.Hex()).
			Str("shortfall_wei", shortfall.String()).
			Msg("settlement exceeded sponsor balance, debit clamped")
		p.events.Emit(ctx, SettlementShortfall{
			UserOpHash: sctx.UserOpHash,
			Sponsor:    sctx.Sponsor,
			Required:   charged,
			Debited:    debited,
		})
	}

	p.logger(ctx).Debug().
		Str("sponsor", sctx.Sponsor.Hex()).
		Str("user_op_hash", sctx.UserOpHash.Hex()).
		Uint8("mode", uint8(mode)).
		Str("charged_wei", debited.String()).
		Msg("settled sponsored operation")

	return nil
}
