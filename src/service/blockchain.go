package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// BlockchainConfig points the service at the chain the paymaster serves.
type BlockchainConfig struct {
	RPCURL  string
	ChainID int64
}

// BlockchainService owns the node connection. It lazily dials on first
// use and is the engine's code reader for signer-candidate probes.
type BlockchainService struct {
	config BlockchainConfig

	mu     sync.Mutex
	client *ethclient.Client
}

func NewBlockchainService(config BlockchainConfig) *BlockchainService {
	return &BlockchainService{config: config}
}

func (b *BlockchainService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "blockchain").Logger()
	return &l
}

// Client returns the shared connection, dialing on first use.
func (b *BlockchainService) Client(ctx context.Context) (*ethclient.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	client, err := ethclient.DialContext(ctx, b.config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc node: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if chainID.Int64() != b.config.ChainID {
		client.Close()
		return nil, fmt.Errorf("rpc node serves chain %d, configured for %d", chainID.Int64(), b.config.ChainID)
	}

	b.logger(ctx).Info().
		Int64("chain_id", b.config.ChainID).
		Msg("rpc connection established")

	b.client = client
	return client, nil
}

// CodeAt probes an account for deployed code at the latest block. It
// satisfies the engine's CodeReader so contract addresses are rejected as
// signer candidates.
func (b *BlockchainService) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	client, err := b.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.CodeAt(ctx, account, nil)
}

// Close releases the node connection.
func (b *BlockchainService) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}
