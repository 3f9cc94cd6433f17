package erc4337

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PostOpMode indicates why the entry point is invoking postOp.
type PostOpMode uint8

const (
	// PostOpModeSucceeded means the inner operation succeeded.
	PostOpModeSucceeded PostOpMode = iota
	// PostOpModeReverted means the inner operation reverted; gas was still
	// consumed and must be settled.
	PostOpModeReverted
	// PostOpModePostOpReverted means an earlier postOp attempt reverted.
	PostOpModePostOpReverted
)

// sigFailAggregator is the sentinel aggregator value signalling a failed
// sponsorship signature, per the entry point's validation-data encoding.
var sigFailAggregator = common.BytesToAddress([]byte{1})

// ValidationData is the unpacked form of the uint256 a paymaster returns
// from validation: an aggregator/sig-failure sentinel plus the validity
// window. The entry point, not the paymaster, enforces the window.
type ValidationData struct {
	Aggregator common.Address
	ValidUntil uint64
	ValidAfter uint64
}

// SigFailed reports whether the sentinel aggregator marks the sponsorship
// signature invalid.
func (v ValidationData) SigFailed() bool {
	return v.Aggregator == sigFailAggregator
}

// WithinWindow reports whether the timestamp falls inside [validAfter,
// validUntil], treating a zero validUntil as "no expiry".
func (v ValidationData) WithinWindow(now uint64) bool {
	if now < v.ValidAfter {
		return false
	}
	if v.ValidUntil != 0 && now > v.ValidUntil {
		return false
	}
	return true
}

// PackValidationData encodes (sigFailed, validUntil, validAfter) into the
// uint256 layout the entry point expects: aggregator in the low 160 bits,
// validUntil at bit 160, validAfter at bit 208.
func PackValidationData(sigFailed bool, validUntil, validAfter uint64) *big.Int {
	packed := new(big.Int)
	if sigFailed {
		packed.SetBytes(sigFailAggregator.Bytes())
	}

	until := new(big.Int).SetUint64(validUntil)
	packed.Or(packed, until.Lsh(until, 160))

	after := new(big.Int).SetUint64(validAfter)
	return packed.Or(packed, after.Lsh(after, 208))
}

// ParseValidationData decodes the packed uint256 validation result.
func ParseValidationData(packed *big.Int) ValidationData {
	var word [32]byte
	packed.FillBytes(word[:])

	return ValidationData{
		Aggregator: common.BytesToAddress(word[12:32]),
		ValidUntil: new(big.Int).SetBytes(word[6:12]).Uint64(),
		ValidAfter: new(big.Int).SetBytes(word[0:6]).Uint64(),
	}
}
