package paymaster

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementContext crosses from validation to settlement: decoded once
// from the blob the validation engine produced, then trusted. It is owned
// by the in-flight operation and never persisted.
type SettlementContext struct {
	Sponsor     common.Address
	UserOpHash  common.Hash
	PriceMarkup uint32
	MaxCost     *big.Int
}

const settlementContextLength = common.AddressLength + common.HashLength + 4 + 32

// Encode serializes the context for the trip through the entry point.
func (c *SettlementContext) Encode() []byte {
	out := make([]byte, settlementContextLength)
	copy(out[0:20], c.Sponsor.Bytes())
	copy(out[20:52], c.UserOpHash.Bytes())
	binary.BigEndian.PutUint32(out[52:56], c.PriceMarkup)
	if c.MaxCost != nil {
		c.MaxCost.FillBytes(out[56:88])
	}
	return out
}

// DecodeSettlementContext decodes a context blob. It never fails: a
// settlement-time error can unwind otherwise-successful user effects, so
// short or garbled input degrades to zero values instead of raising.
func DecodeSettlementContext(data []byte) *SettlementContext {
	ctx := &SettlementContext{MaxCost: new(big.Int)}
	if len(data) < settlementContextLength {
		return ctx
	}
	ctx.Sponsor = common.BytesToAddress(data[0:20])
	ctx.UserOpHash = common.BytesToHash(data[20:52])
	ctx.PriceMarkup = binary.BigEndian.Uint32(data[52:56])
	ctx.MaxCost.SetBytes(data[56:88])
	return ctx
}
