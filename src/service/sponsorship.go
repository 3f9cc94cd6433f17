package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/StartaleGroup/scs-aa-paymasters/src/domain"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
)

// SponsorshipConfig holds the off-chain signer identity and the default
// sponsorship terms it hands out.
type SponsorshipConfig struct {
	// SigningKey must correspond to an address registered in the engine's
	// signer registry, otherwise every signature it produces soft-fails
	// validation.
	SigningKey *ecdsa.PrivateKey
	// ValidityWindow is how long a signed sponsorship stays usable.
	ValidityWindow time.Duration
	// DefaultPriceMarkup is applied when a request does not name one.
	// Scaled by paymaster.PriceMarkupDenominator.
	DefaultPriceMarkup uint32
}

// SponsorshipService is the off-chain signing side of the paymaster: it
// stamps user operations with sponsorship terms a registered signer has
// authorized and tracks the outstanding authorizations.
type SponsorshipService struct {
	config   SponsorshipConfig
	engine   *paymaster.SponsorshipPaymaster
	inflight *repository.InflightCacheRepository
	now      func() time.Time
}

func NewSponsorshipService(
	config SponsorshipConfig,
	engine *paymaster.SponsorshipPaymaster,
	inflight *repository.InflightCacheRepository,
) *SponsorshipService {
	if config.DefaultPriceMarkup == 0 {
		config.DefaultPriceMarkup = paymaster.PriceMarkupDenominator
	}
	return &SponsorshipService{
		config:   config,
		engine:   engine,
		inflight: inflight,
		now:      time.Now,
	}
}

func (s *SponsorshipService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "sponsorship").Logger()
	return &l
}

// SignerAddress returns the address the signing key controls.
func (s *SponsorshipService) SignerAddress() common.Address {
	return crypto.PubkeyToAddress(s.config.SigningKey.PublicKey)
}

// SponsorshipResult is what a client needs to finish building its user
// operation.
type SponsorshipResult struct {
	UserOpHash    common.Hash
	Sponsor       common.Address
	PaymasterData hexutil.Bytes
	ValidUntil    uint64
	ValidAfter    uint64
	PriceMarkup   uint32
	MaxCostWei    *big.Int
}

// SponsorUserOperation signs sponsorship terms for op against the given
// sponsor's deposit and returns the paymaster data segment the client
// must place after the paymasterAndData prefix. The operation's gas
// fields must be final: the signature covers them, so any later change
// invalidates it.
func (s *SponsorshipService) SponsorUserOperation(ctx context.Context, op *erc4337.UserOperation, sponsor common.Address, priceMarkup uint32) (*SponsorshipResult, error) {
	if priceMarkup == 0 {
		priceMarkup = s.config.DefaultPriceMarkup
	}
	if priceMarkup < paymaster.PriceMarkupDenominator || priceMarkup > paymaster.MaxPriceMarkup {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("price markup %d outside [%d, %d]", priceMarkup, paymaster.PriceMarkupDenominator, paymaster.MaxPriceMarkup),
			domain.WithMsg("price markup out of range"),
		)
	}

	now := s.now()
	data := &paymaster.SponsorshipData{
		SponsorID:   sponsor,
		ValidUntil:  uint64(now.Add(s.config.ValidityWindow).Unix()),
		ValidAfter:  uint64(now.Unix()),
		PriceMarkup: priceMarkup,
	}

	// The digest covers the paymaster address and gas limits, so the
	// operation must carry them before packing.
	pmAddr := s.engine.Address()
	op.Paymaster = &pmAddr
	packed := op.Pack()

	maxCost := packed.RequiredPrefund()
	if !s.engine.Ledger().CanSponsor(sponsor, maxCost) {
		return nil, domain.NewError(
			domain.ErrorCodeParameterInvalid,
			fmt.Errorf("sponsor %s cannot cover max cost %s wei", sponsor.Hex(), maxCost),
			domain.WithMsg("sponsor deposit cannot cover this operation"),
		)
	}

	digest, err := s.engine.SponsorshipDigest(packed, data)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	sig, err := crypto.Sign(digest.Bytes(), s.config.SigningKey)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess,
			fmt.Errorf("failed to sign sponsorship digest: %w", err))
	}
	// crypto.Sign yields v in {0, 1}; recovery expects 27 or 28.
	sig[64] += 27
	data.Signature = sig

	op.PaymasterData = data.Encode()
	packed = op.Pack()

	userOpHash, err := packed.Hash(s.engine.EntryPoint(), s.engine.ChainID())
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	if s.inflight != nil {
		err := s.inflight.Track(ctx, repository.InflightSponsorship{
			UserOpHash:  userOpHash,
			Sponsor:     sponsor,
			MaxCostWei:  maxCost.String(),
			PriceMarkup: priceMarkup,
			ValidUntil:  data.ValidUntil,
			CreatedAt:   now,
		})
		if err != nil {
			s.logger(ctx).Warn().Err(err).
				Str("user_op_hash", userOpHash.Hex()).
				Msg("failed to track inflight sponsorship")
		}
	}

	s.logger(ctx).Info().
		Str("user_op_hash", userOpHash.Hex()).
		Str("sponsor", sponsor.Hex()).
		Str("max_cost_wei", maxCost.String()).
		Uint32("price_markup", priceMarkup).
		Msg("sponsorship signed")

	return &SponsorshipResult{
		UserOpHash:    userOpHash,
		Sponsor:       sponsor,
		PaymasterData: hexutil.Bytes(data.Encode()),
		ValidUntil:    data.ValidUntil,
		ValidAfter:    data.ValidAfter,
		PriceMarkup:   priceMarkup,
		MaxCostWei:    maxCost,
	}, nil
}

// InflightSponsorships lists the authorizations that are signed but not
// yet settled.
func (s *SponsorshipService) InflightSponsorships(ctx context.Context) ([]*repository.InflightSponsorship, error) {
	if s.inflight == nil {
		return nil, nil
	}
	return s.inflight.List(ctx, s.now())
}
