package erc4337

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EntryPointV07 is the canonical v0.7 entry point address.
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// Byte offsets inside the paymasterAndData field of a packed user operation.
const (
	PaymasterValidationGasOffset = 20
	PaymasterPostOpGasOffset     = 36
	PaymasterDataOffset          = 52
)

// UserOperation is the unpacked v0.7 user operation as it travels over
// bundler RPC.
type UserOperation struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   hexutil.Bytes   `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// PackedUserOperation is the on-chain representation consumed by the entry
// point: gas limits and fee fields are packed pairwise into 32-byte words.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// PackUints packs two 128-bit values into a single 32-byte word, high
// value first. Used for accountGasLimits and gasFees.
func PackUints(high, low *big.Int) [32]byte {
	var out [32]byte
	if high != nil {
		high.FillBytes(out[:16])
	}
	if low != nil {
		low.FillBytes(out[16:])
	}
	return out
}

// UnpackUints is the inverse of PackUints.
func UnpackUints(word [32]byte) (high, low *big.Int) {
	return new(big.Int).SetBytes(word[:16]), new(big.Int).SetBytes(word[16:])
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return (*big.Int)(v)
}

// Pack converts the RPC representation into the packed on-chain form.
func (op *UserOperation) Pack() *PackedUserOperation {
	packed := &PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              bigOrZero(op.Nonce),
		CallData:           op.CallData,
		AccountGasLimits:   PackUints(bigOrZero(op.VerificationGasLimit), bigOrZero(op.CallGasLimit)),
		PreVerificationGas: bigOrZero(op.PreVerificationGas),
		GasFees:            PackUints(bigOrZero(op.MaxPriorityFeePerGas), bigOrZero(op.MaxFeePerGas)),
		Signature:          op.Signature,
	}

	if op.Factory != nil && len(op.FactoryData) > 0 {
		initCode := make([]byte, 0, common.AddressLength+len(op.FactoryData))
		initCode = append(initCode, op.Factory.Bytes()...)
		initCode = append(initCode, op.FactoryData...)
		packed.InitCode = initCode
	}

	if op.Paymaster != nil {
		pmd := make([]byte, 0, PaymasterDataOffset+len(op.PaymasterData))
		pmd = append(pmd, op.Paymaster.Bytes()...)
		pmd = append(pmd, common.LeftPadBytes(bigOrZero(op.PaymasterVerificationGasLimit).Bytes(), 16)...)
		pmd = append(pmd, common.LeftPadBytes(bigOrZero(op.PaymasterPostOpGasLimit).Bytes(), 16)...)
		pmd = append(pmd, op.PaymasterData...)
		packed.PaymasterAndData = pmd
	}

	return packed
}

// PaymasterAddress extracts the paymaster address from paymasterAndData.
// Returns the zero address when no paymaster is set.
func (op *PackedUserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < common.AddressLength {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:common.AddressLength])
}

// PaymasterData returns the variable-length segment of paymasterAndData
// following the address and gas-limit fields, or nil when absent.
func (op *PackedUserOperation) PaymasterData() []byte {
	if len(op.PaymasterAndData) <= PaymasterDataOffset {
		return nil
	}
	return op.PaymasterAndData[PaymasterDataOffset:]
}

// PaymasterVerificationGasLimit returns the paymaster validation gas limit
// carried in paymasterAndData, zero when absent.
func (op *PackedUserOperation) PaymasterVerificationGasLimit() *big.Int {
	if len(op.PaymasterAndData) < PaymasterDataOffset {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(op.PaymasterAndData[PaymasterValidationGasOffset:PaymasterPostOpGasOffset])
}

// PaymasterPostOpGasLimit returns the postOp gas limit carried in
// paymasterAndData, zero when absent.
func (op *PackedUserOperation) PaymasterPostOpGasLimit() *big.Int {
	if len(op.PaymasterAndData) < PaymasterDataOffset {
		return new(big.Int)
	}
	return new(big.Int).SetBytes(op.PaymasterAndData[PaymasterPostOpGasOffset:PaymasterDataOffset])
}

// MaxFeePerGas returns the fee cap packed into the low half of gasFees.
func (op *PackedUserOperation) MaxFeePerGas() *big.Int {
	_, maxFee := UnpackUints(op.GasFees)
	return maxFee
}

// RequiredPrefund is the conservative upper bound on what the operation
// can cost: the sum of every gas limit times the fee cap.
func (op *PackedUserOperation) RequiredPrefund() *big.Int {
	verificationGas, callGas := UnpackUints(op.AccountGasLimits)

	requiredGas := new(big.Int).Add(verificationGas, callGas)
	requiredGas.Add(requiredGas, op.PreVerificationGas)
	requiredGas.Add(requiredGas, op.PaymasterVerificationGasLimit())
	requiredGas.Add(requiredGas, op.PaymasterPostOpGasLimit())

	return requiredGas.Mul(requiredGas, op.MaxFeePerGas())
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	uint256Type, _ = abi.NewType("uint256", "", nil)
	bytes32Type, _ = abi.NewType("bytes32", "", nil)
)

// Hash computes the v0.7 userOpHash: keccak of the ABI-encoded operation
// fields, wrapped with the entry point address and chain id.
func (op *PackedUserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	opArgs := abi.Arguments{
		{Type: addressType}, // sender
		{Type: uint256Type}, // nonce
		{Type: bytes32Type}, // keccak(initCode)
		{Type: bytes32Type}, // keccak(callData)
		{Type: bytes32Type}, // accountGasLimits
		{Type: uint256Type}, // preVerificationGas
		{Type: bytes32Type}, // gasFees
		{Type: bytes32Type}, // keccak(paymasterAndData)
	}

	encoded, err := opArgs.Pack(
		op.Sender,
		op.Nonce,
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		op.AccountGasLimits,
		op.PreVerificationGas,
		op.GasFees,
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode user operation: %w", err)
	}

	wrapArgs := abi.Arguments{
		{Type: bytes32Type}, // inner hash
		{Type: addressType}, // entry point
		{Type: uint256Type}, // chain id
	}

	wrapped, err := wrapArgs.Pack(crypto.Keccak256Hash(encoded), entryPoint, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode outer hash: %w", err)
	}

	return crypto.Keccak256Hash(wrapped), nil
}
