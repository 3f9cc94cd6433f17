package erc4337

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// UserOperationReceipt is the bundler's record of a mined user operation.
// ActualGasCost is what the sweeper reconciles against the sponsor ledger.
type UserOperationReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	Sender        common.Address `json:"sender"`
	Paymaster     common.Address `json:"paymaster"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Success       bool           `json:"success"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Logs          []*types.Log   `json:"logs"`
}

// Bundler is the subset of the ERC-4337 bundler RPC surface this service
// uses.
type Bundler interface {
	ChainId(ctx context.Context) (*big.Int, error)
	SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error)
	GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error)
}

type bundlerClient struct {
	client *rpc.Client
}

// DialBundler connects to a bundler RPC endpoint.
func DialBundler(ctx context.Context, rawurl string) (Bundler, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, err
	}
	return &bundlerClient{client: c}, nil
}

func (b *bundlerClient) ChainId(ctx context.Context) (*big.Int, error) {
	var result hexutil.Big
	if err := b.client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&result), nil
}

func (b *bundlerClient) SendUserOperation(ctx context.Context, op *UserOperation, entryPoint common.Address) (common.Hash, error) {
	var result common.Hash
	err := b.client.CallContext(ctx, &result, "eth_sendUserOperation", op, entryPoint)
	return result, err
}

func (b *bundlerClient) GetUserOperationReceipt(ctx context.Context, userOpHash common.Hash) (*UserOperationReceipt, error) {
	var receipt *UserOperationReceipt
	if err := b.client.CallContext(ctx, &receipt, "eth_getUserOperationReceipt", userOpHash); err != nil {
		return nil, err
	}
	return receipt, nil
}
