package paymaster

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Field widths of the sponsorship paymaster data segment. The segment
// starts right after the 52-byte paymasterAndData prefix (paymaster
// address + validation gas + postOp gas); all offsets below are relative
// to that base. Changing any width is a wire-breaking change.
const (
	sponsorIDLength   = common.AddressLength
	timestampLength   = 6
	priceMarkupLength = 4

	sponsorIDOffset   = 0
	validUntilOffset  = sponsorIDOffset + sponsorIDLength
	validAfterOffset  = validUntilOffset + timestampLength
	priceMarkupOffset = validAfterOffset + timestampLength
	signatureOffset   = priceMarkupOffset + priceMarkupLength

	// CompactSignatureLength is the EIP-2098 encoding, CanonicalSignatureLength
	// the usual r || s || v form.
	CompactSignatureLength   = 64
	CanonicalSignatureLength = 65
)

// SponsorshipData is the decoded sponsorship paymaster data segment.
type SponsorshipData struct {
	SponsorID   common.Address
	ValidUntil  uint64 // unix seconds, big-endian uint48 on the wire
	ValidAfter  uint64
	PriceMarkup uint32 // scaled by PriceMarkupDenominator
	Signature   []byte // 64 or 65 bytes
}

// ParseSponsorshipData decodes the paymaster data segment of a user
// operation. The blob must contain every fixed field and a signature of
// exactly 64 or 65 bytes; anything else is structurally malformed and
// could not have been produced by an honest signer.
func ParseSponsorshipData(data []byte) (*SponsorshipData, error) {
	if len(data) < signatureOffset+CompactSignatureLength {
		return nil, fmt.Errorf("%w: have %d bytes, need at least %d",
			ErrMalformedPaymasterData, len(data), signatureOffset+CompactSignatureLength)
	}

	sigLen := len(data) - signatureOffset
	if sigLen != CompactSignatureLength && sigLen != CanonicalSignatureLength {
		return nil, fmt.Errorf("%w: signature segment is %d bytes, want 64 or 65",
			ErrMalformedPaymasterData, sigLen)
	}

	sig := make([]byte, sigLen)
	copy(sig, data[signatureOffset:])

	return &SponsorshipData{
		SponsorID:   common.BytesToAddress(data[sponsorIDOffset:validUntilOffset]),
		ValidUntil:  uint48(data[validUntilOffset:validAfterOffset]),
		ValidAfter:  uint48(data[validAfterOffset:priceMarkupOffset]),
		PriceMarkup: binary.BigEndian.Uint32(data[priceMarkupOffset:signatureOffset]),
		Signature:   sig,
	}, nil
}

// Encode is the mirror of ParseSponsorshipData, used by the off-chain
// signing service to produce the paymaster data segment.
func (d *SponsorshipData) Encode() []byte {
	out := d.EncodeForSigning()
	return append(out, d.Signature...)
}

// EncodeForSigning encodes every field preceding the signature. These are
// exactly the paymaster-data bytes covered by the sponsorship digest, so
// a signature binds the sponsor, the validity window and the markup.
func (d *SponsorshipData) EncodeForSigning() []byte {
	out := make([]byte, signatureOffset)
	copy(out[sponsorIDOffset:], d.SponsorID.Bytes())
	putUint48(out[validUntilOffset:validAfterOffset], d.ValidUntil)
	putUint48(out[validAfterOffset:priceMarkupOffset], d.ValidAfter)
	binary.BigEndian.PutUint32(out[priceMarkupOffset:signatureOffset], d.PriceMarkup)
	return out
}

// VerifyingData is the minimal paymaster data variant carrying only the
// validity window and a signature, the plain verifying-paymaster wire
// format that the sponsorship layout extends. The engine validates the
// extended layout only; this codec documents the base contract for
// clients interoperating with plain verifying paymasters.
type VerifyingData struct {
	ValidUntil uint64
	ValidAfter uint64
	Signature  []byte
}

const verifyingSignatureOffset = 2 * timestampLength

// ParseVerifyingData decodes the minimal variant.
func ParseVerifyingData(data []byte) (*VerifyingData, error) {
	if len(data) < verifyingSignatureOffset+CompactSignatureLength {
		return nil, fmt.Errorf("%w: have %d bytes, need at least %d",
			ErrMalformedPaymasterData, len(data), verifyingSignatureOffset+CompactSignatureLength)
	}

	sigLen := len(data) - verifyingSignatureOffset
	if sigLen != CompactSignatureLength && sigLen != CanonicalSignatureLength {
		return nil, fmt.Errorf("%w: signature segment is %d bytes, want 64 or 65",
			ErrMalformedPaymasterData, sigLen)
	}

	sig := make([]byte, sigLen)
	copy(sig, data[verifyingSignatureOffset:])

	return &VerifyingData{
		ValidUntil: uint48(data[0:timestampLength]),
		ValidAfter: uint48(data[timestampLength:verifyingSignatureOffset]),
		Signature:  sig,
	}, nil
}

// Encode is the mirror of ParseVerifyingData.
func (d *VerifyingData) Encode() []byte {
	out := make([]byte, verifyingSignatureOffset, verifyingSignatureOffset+len(d.Signature))
	putUint48(out[0:timestampLength], d.ValidUntil)
	putUint48(out[timestampLength:verifyingSignatureOffset], d.ValidAfter)
	return append(out, d.Signature...)
}

func putUint48(dst []byte, v uint64) {
	dst[0] = byte(v >> 40)
	dst[1] = byte(v >> 32)
	dst[2] = byte(v >> 24)
	dst[3] = byte(v >> 16)
	dst[4] = byte(v >> 8)
	dst[5] = byte(v)
}

func uint48(src []byte) uint64 {
	return uint64(src[0])<<40 | uint64(src[1])<<32 | uint64(src[2])<<24 |
		uint64(src[3])<<16 | uint64(src[4])<<8 | uint64(src[5])
}
