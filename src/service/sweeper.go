package service

import (
	"context"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
)

// SweeperConfig controls the reconciliation cycle.
type SweeperConfig struct {
	SweepInterval time.Duration
}

// SweeperService reconciles outstanding sponsorships. Each cycle it asks
// the bundler for receipts of inflight operations and settles mined ones
// against the engine, then drops entries whose validity window passed
// without a settlement: those can never mine anymore, so keeping them
// would only inflate the outstanding-exposure view.
type SweeperService struct {
	inflight      *repository.InflightCacheRepository
	bundler       erc4337.Bundler
	engine        *paymaster.SponsorshipPaymaster
	sweepInterval time.Duration
}

// NewSweeperService builds the sweeper. bundler and engine may be nil,
// reducing the cycle to expiry pruning.
func NewSweeperService(inflight *repository.InflightCacheRepository, bundler erc4337.Bundler, engine *paymaster.SponsorshipPaymaster, config SweeperConfig) *SweeperService {
	return &SweeperService{
		inflight:      inflight,
		bundler:       bundler,
		engine:        engine,
		sweepInterval: config.SweepInterval,
	}
}

// logger wraps the execution context with component info
func (s *SweeperService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("component", "sweeper-service").Logger()
	return &l
}

// Start begins the sweep loop and blocks until the context is done.
func (s *SweeperService) Start(ctx context.Context) error {
	s.logger(ctx).Info().
		Dur("sweep_interval", s.sweepInterval).
		Msg("starting sweeper service")

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger(ctx).Info().Msg("sweeper service stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger(ctx).Error().Err(err).Msg("sweep cycle failed")
			}
		}
	}
}

// sweep performs a single reconcile-and-prune cycle.
func (s *SweeperService) sweep(ctx context.Context) error {
	if s.bundler != nil && s.engine != nil {
		if err := s.reconcile(ctx); err != nil {
			s.logger(ctx).Error().Err(err).Msg("receipt reconciliation failed")
		}
	}

	pruned, err := s.inflight.PruneExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	if pruned > 0 {
		s.logger(ctx).Info().Int("pruned", pruned).Msg("dropped expired inflight sponsorships")
	} else {
		s.logger(ctx).Debug().Msg("no expired inflight sponsorships")
	}
	return nil
}

// reconcile settles every inflight sponsorship the bundler has a receipt
// for. Settlement clears the entry through the engine's event sink.
func (s *SweeperService) reconcile(ctx context.Context) error {
	tracked, err := s.inflight.List(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, entry := range tracked {
		receipt, err := s.bundler.GetUserOperationReceipt(ctx, entry.UserOpHash)
		if err != nil {
			s.logger(ctx).Warn().Err(err).
				Str("user_op_hash", entry.UserOpHash.Hex()).
				Msg("receipt lookup failed")
			continue
		}
		if receipt == nil {
			// Not mined yet
			continue
		}

		s.settle(ctx, entry, receipt)
	}
	return nil
}

func (s *SweeperService) settle(ctx context.Context, entry *repository.InflightSponsorship, receipt *erc4337.UserOperationReceipt) {
	gasCost := (*big.Int)(receipt.ActualGasCost)
	gasUsed := (*big.Int)(receipt.ActualGasUsed)

	// The receipt carries cost and usage, not the fee; derive it.
	feePerGas := new(big.Int)
	if gasCost != nil && gasUsed != nil && gasUsed.Sign() > 0 {
		feePerGas.Div(gasCost, gasUsed)
	}

	maxCost, ok := new(big.Int).SetString(entry.MaxCostWei, 10)
	if !ok {
		maxCost = new(big.Int)
	}

	sctx := &paymaster.SettlementContext{
		Sponsor:     entry.Sponsor,
		UserOpHash:  entry.UserOpHash,
		PriceMarkup: entry.PriceMarkup,
		MaxCost:     maxCost,
	}

	mode := erc4337.PostOpModeSucceeded
	if !receipt.Success {
		mode = erc4337.PostOpModeReverted
	}

	if err := s.engine.PostOp(ctx, s.engine.EntryPoint(), mode, sctx.Encode(), gasCost, feePerGas); err != nil {
		s.logger(ctx).Error().Err(err).
			Str("user_op_hash", entry.UserOpHash.Hex()).
			Msg("settlement failed")
		return
	}

	s.logger(ctx).Info().
		Str("user_op_hash", entry.UserOpHash.Hex()).
		Str("sponsor", entry.Sponsor.Hex()).
		Bool("success", receipt.Success).
		Msg("reconciled mined sponsorship")
}
