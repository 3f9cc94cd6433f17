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
)

var (
	testPaymasterAddr = common.HexToAddress("0x7777000000000000000000000000000000000007")
	testSponsorAddr   = common.HexToAddress("0x5555000000000000000000000000000000000001")
	testChainID       = big.NewInt(11155111)
)

func newTestSponsorshipService(t *testing.T) (*SponsorshipService, *paymaster.SponsorshipPaymaster, *paymaster.DepositLedger) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	admin := paymaster.AdminCapabilityFromSecret([]byte("secret"))
	registry, err := paymaster.NewSignerRegistry(context.Background(), admin, nil, nil,
		[]common.Address{crypto.PubkeyToAddress(key.PublicKey)})
	require.NoError(t, err)

	ledger := paymaster.NewDepositLedger(paymaster.LedgerConfig{
		WithdrawalDelay: time.Hour,
	})

	pm := paymaster.NewSponsorshipPaymaster(paymaster.Config{
		Address:    testPaymasterAddr,
		EntryPoint: erc4337.EntryPointV07,
		ChainID:    testChainID,
	}, registry, ledger, nil)

	svc := NewSponsorshipService(SponsorshipConfig{
		SigningKey:     key,
		ValidityWindow: 5 * time.Minute,
	}, pm, nil)

	return svc, pm, ledger
}

func testOp() *erc4337.UserOperation {
	return &erc4337.UserOperation{
		Sender:                        common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                         (*hexutil.Big)(big.NewInt(1)),
		CallData:                      hexutil.Bytes{0xca, 0x11},
		CallGasLimit:                  (*hexutil.Big)(big.NewInt(100_000)),
		VerificationGasLimit:          (*hexutil.Big)(big.NewInt(50_000)),
		PreVerificationGas:            (*hexutil.Big)(big.NewInt(21_000)),
		MaxPriorityFeePerGas:          (*hexutil.Big)(big.NewInt(1_000_000_000)),
		MaxFeePerGas:                  (*hexutil.Big)(big.NewInt(2_000_000_000)),
		PaymasterVerificationGasLimit: (*hexutil.Big)(big.NewInt(40_000)),
		PaymasterPostOpGasLimit:       (*hexutil.Big)(big.NewInt(20_000)),
	}
}

func TestSponsorUserOperationRoundTrip(t *testing.T) {
	svc, pm, ledger := newTestSponsorshipService(t)
	ctx := context.Background()

	deposit := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
	require.NoError(t, ledger.DepositFor(ctx, testSponsorAddr, deposit))

	op := testOp()
	result, err := svc.SponsorUserOperation(ctx, op, testSponsorAddr, 0)
	require.NoError(t, err)

	assert.Equal(t, testSponsorAddr, result.Sponsor)
	assert.Equal(t, uint32(paymaster.PriceMarkupDenominator), result.PriceMarkup)
	assert.True(t, result.ValidUntil > result.ValidAfter)

	// The signed terms pass the engine's validation
	op.PaymasterData = hexutil.Bytes(result.PaymasterData)
	packed := op.Pack()

	userOpHash, err := packed.Hash(pm.EntryPoint(), pm.ChainID())
	require.NoError(t, err)
	assert.Equal(t, result.UserOpHash, userOpHash)

	contextBlob, packedValidation, err := pm.ValidatePaymasterUserOp(
		ctx, pm.EntryPoint(), packed, userOpHash, packed.RequiredPrefund())
	require.NoError(t, err)
	require.NotNil(t, contextBlob)

	validation := erc4337.ParseValidationData(packedValidation)
	assert.False(t, validation.SigFailed())
	assert.Equal(t, result.ValidUntil, validation.ValidUntil)
	assert.Equal(t, result.ValidAfter, validation.ValidAfter)
}

func TestSponsorUserOperationUnderfundedSponsor(t *testing.T) {
	svc, _, _ := newTestSponsorshipService(t)

	_, err := svc.SponsorUserOperation(context.Background(), testOp(), testSponsorAddr, 0)
	require.Error(t, err)
}

func TestSponsorUserOperationRejectsBadMarkup(t *testing.T) {
	svc, _, ledger := newTestSponsorshipService(t)
	ctx := context.Background()

	deposit := new(big.Int).Mul(big.NewInt(1), big.NewInt(1e18))
	require.NoError(t, ledger.DepositFor(ctx, testSponsorAddr, deposit))

	_, err := svc.SponsorUserOperation(ctx, testOp(), testSponsorAddr, paymaster.MaxPriceMarkup+1)
	require.Error(t, err)

	_, err = svc.SponsorUserOperation(ctx, testOp(), testSponsorAddr, paymaster.PriceMarkupDenominator-1)
	require.Error(t, err)
}

func TestSignerAddress(t *testing.T) {
	svc, _, _ := newTestSponsorshipService(t)
	assert.NotEqual(t, common.Address{}, svc.SignerAddress())
}
