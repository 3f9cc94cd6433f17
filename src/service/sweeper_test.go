package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StartaleGroup/scs-aa-paymasters/erc4337"
	"github.com/StartaleGroup/scs-aa-paymasters/src/paymaster"
	"github.com/StartaleGroup/scs-aa-paymasters/src/repository"
)

func newSettlementEngine(t *testing.T) (*paymaster.SponsorshipPaymaster, *paymaster.DepositLedger) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	admin := paymaster.AdminCapabilityFromSecret([]byte("secret"))
	registry, err := paymaster.NewSignerRegistry(context.Background(), admin, nil, nil,
		[]common.Address{crypto.PubkeyToAddress(key.PublicKey)})
	require.NoError(t, err)

	ledger := paymaster.NewDepositLedger(paymaster.LedgerConfig{WithdrawalDelay: time.Hour})

	pm := paymaster.NewSponsorshipPaymaster(paymaster.Config{
		Address:    testPaymasterAddr,
		EntryPoint: erc4337.EntryPointV07,
		ChainID:    testChainID,
	}, registry, ledger, nil)

	return pm, ledger
}

func TestSweeperSettlesMinedReceipt(t *testing.T) {
	pm, ledger := newSettlementEngine(t)
	ctx := context.Background()

	deposit := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
	require.NoError(t, ledger.DepositFor(ctx, testSponsorAddr, deposit))

	sweeper := NewSweeperService(nil, nil, pm, SweeperConfig{SweepInterval: time.Minute})

	userOpHash := common.HexToHash("0xbeef")
	entry := &repository.InflightSponsorship{
		UserOpHash:  userOpHash,
		Sponsor:     testSponsorAddr,
		MaxCostWei:  deposit.String(),
		PriceMarkup: paymaster.PriceMarkupDenominator,
		CreatedAt:   time.Now(),
	}

	gasUsed := big.NewInt(100_000)
	feePerGas := big.NewInt(1_000_000_000)
	gasCost := new(big.Int).Mul(gasUsed, feePerGas)

	receipt := &erc4337.UserOperationReceipt{
		UserOpHash:    userOpHash,
		Success:       true,
		ActualGasCost: (*hexutil.Big)(gasCost),
		ActualGasUsed: (*hexutil.Big)(gasUsed),
	}

	sweeper.settle(ctx, entry, receipt)

	// gasCost plus the unaccounted-gas allowance at the derived fee
	overhead := new(big.Int).Mul(big.NewInt(paymaster.DefaultUnaccountedGas), feePerGas)
	expected := new(big.Int).Sub(deposit, new(big.Int).Add(gasCost, overhead))
	assert.Equal(t, 0, expected.Cmp(ledger.BalanceOf(testSponsorAddr)))
}

func TestSweeperSettlesRevertedReceipt(t *testing.T) {
	pm, ledger := newSettlementEngine(t)
	ctx := context.Background()

	deposit := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
	require.NoError(t, ledger.DepositFor(ctx, testSponsorAddr, deposit))

	sweeper := NewSweeperService(nil, nil, pm, SweeperConfig{SweepInterval: time.Minute})

	entry := &repository.InflightSponsorship{
		UserOpHash:  common.HexToHash("0xdead"),
		Sponsor:     testSponsorAddr,
		MaxCostWei:  deposit.String(),
		PriceMarkup: paymaster.PriceMarkupDenominator,
	}

	receipt := &erc4337.UserOperationReceipt{
		UserOpHash:    entry.UserOpHash,
		Success:       false,
		ActualGasCost: (*hexutil.Big)(big.NewInt(500_000)),
		ActualGasUsed: (*hexutil.Big)(big.NewInt(50)),
	}

	sweeper.settle(ctx, entry, receipt)

	// A reverted operation still charges the sponsor
	assert.Equal(t, -1, ledger.BalanceOf(testSponsorAddr).Cmp(deposit))
}
