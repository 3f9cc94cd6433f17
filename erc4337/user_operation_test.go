package erc4337

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hexBig(v int64) *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(v))
}

func testUserOperation() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1234567890123456789012345678901234567890"),
		Nonce:                hexBig(1),
		CallData:             hexutil.Bytes{0xab, 0xcd, 0xef},
		CallGasLimit:         hexBig(100_000),
		VerificationGasLimit: hexBig(50_000),
		PreVerificationGas:   hexBig(21_000),
		MaxPriorityFeePerGas: hexBig(1_000_000_000),
		MaxFeePerGas:         hexBig(2_000_000_000),
		Signature:            hexutil.Bytes{},
	}
}

func TestPackUintsRoundTrip(t *testing.T) {
	high := big.NewInt(50_000)
	low := big.NewInt(100_000)

	word := PackUints(high, low)
	gotHigh, gotLow := UnpackUints(word)

	assert.Equal(t, 0, high.Cmp(gotHigh))
	assert.Equal(t, 0, low.Cmp(gotLow))
}

func TestPackUserOperation(t *testing.T) {
	op := testUserOperation()
	packed := op.Pack()

	assert.Equal(t, op.Sender, packed.Sender)
	assert.Equal(t, int64(1), packed.Nonce.Int64())
	assert.Empty(t, packed.InitCode)
	assert.Empty(t, packed.PaymasterAndData)

	verificationGas, callGas := UnpackUints(packed.AccountGasLimits)
	assert.Equal(t, int64(50_000), verificationGas.Int64())
	assert.Equal(t, int64(100_000), callGas.Int64())

	assert.Equal(t, int64(2_000_000_000), packed.MaxFeePerGas().Int64())
}

func TestPackWithFactory(t *testing.T) {
	op := testUserOperation()
	factory := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	op.Factory = &factory
	op.FactoryData = hexutil.Bytes{0x01, 0x02}

	packed := op.Pack()

	require.Len(t, packed.InitCode, common.AddressLength+2)
	assert.Equal(t, factory.Bytes(), packed.InitCode[:common.AddressLength])
	assert.Equal(t, []byte{0x01, 0x02}, packed.InitCode[common.AddressLength:])
}

func TestPackWithPaymaster(t *testing.T) {
	op := testUserOperation()
	pm := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = hexBig(40_000)
	op.PaymasterPostOpGasLimit = hexBig(20_000)
	op.PaymasterData = hexutil.Bytes{0xde, 0xad}

	packed := op.Pack()

	require.GreaterOrEqual(t, len(packed.PaymasterAndData), PaymasterDataOffset)
	assert.Equal(t, pm, packed.PaymasterAddress())
	assert.Equal(t, int64(40_000), packed.PaymasterVerificationGasLimit().Int64())
	assert.Equal(t, int64(20_000), packed.PaymasterPostOpGasLimit().Int64())
	assert.Equal(t, []byte{0xde, 0xad}, packed.PaymasterData())
}

func TestPaymasterAccessorsWithoutPaymaster(t *testing.T) {
	packed := testUserOperation().Pack()

	assert.Equal(t, common.Address{}, packed.PaymasterAddress())
	assert.Nil(t, packed.PaymasterData())
	assert.Equal(t, int64(0), packed.PaymasterVerificationGasLimit().Int64())
	assert.Equal(t, int64(0), packed.PaymasterPostOpGasLimit().Int64())
}

func TestRequiredPrefund(t *testing.T) {
	op := testUserOperation()
	pm := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = hexBig(40_000)
	op.PaymasterPostOpGasLimit = hexBig(20_000)

	packed := op.Pack()

	// (100000 + 50000 + 21000 + 40000 + 20000) * 2 gwei
	expected := new(big.Int).Mul(big.NewInt(231_000), big.NewInt(2_000_000_000))
	assert.Equal(t, 0, expected.Cmp(packed.RequiredPrefund()))
}

func TestUserOpHash(t *testing.T) {
	chainID := big.NewInt(11155111)
	packed := testUserOperation().Pack()

	hash, err := packed.Hash(EntryPointV07, chainID)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	// Same inputs produce the same hash
	hash2, err := packed.Hash(EntryPointV07, chainID)
	require.NoError(t, err)
	assert.Equal(t, hash, hash2)

	// Different nonce produces a different hash
	op2 := testUserOperation()
	op2.Nonce = hexBig(2)
	hash3, err := op2.Pack().Hash(EntryPointV07, chainID)
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash3)

	// Different chain produces a different hash
	hash4, err := packed.Hash(EntryPointV07, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash4)

	// Different entry point produces a different hash
	hash5, err := packed.Hash(common.HexToAddress("0x00000000000000000000000000000000000000cc"), chainID)
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash5)
}
