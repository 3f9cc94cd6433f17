package paymaster

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSponsorshipDataRoundTrip(t *testing.T) {
	original := &SponsorshipData{
		SponsorID:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		ValidUntil:  1700000000,
		ValidAfter:  1690000000,
		PriceMarkup: 1_100_000,
		Signature:   bytes.Repeat([]byte{0x42}, CanonicalSignatureLength),
	}

	parsed, err := ParseSponsorshipData(original.Encode())
	require.NoError(t, err)

	assert.Equal(t, original.SponsorID, parsed.SponsorID)
	assert.Equal(t, original.ValidUntil, parsed.ValidUntil)
	assert.Equal(t, original.ValidAfter, parsed.ValidAfter)
	assert.Equal(t, original.PriceMarkup, parsed.PriceMarkup)
	assert.Equal(t, original.Signature, parsed.Signature)
}

func TestSponsorshipDataCompactSignature(t *testing.T) {
	original := &SponsorshipData{
		SponsorID:   common.HexToAddress("0x2222222222222222222222222222222222222222"),
		ValidUntil:  1,
		PriceMarkup: 1_000_000,
		Signature:   bytes.Repeat([]byte{0x07}, CompactSignatureLength),
	}

	parsed, err := ParseSponsorshipData(original.Encode())
	require.NoError(t, err)
	assert.Len(t, parsed.Signature, CompactSignatureLength)
}

func TestParseSponsorshipDataTooShort(t *testing.T) {
	_, err := ParseSponsorshipData(make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedPaymasterData)

	// One byte short of the minimum
	_, err = ParseSponsorshipData(make([]byte, signatureOffset+CompactSignatureLength-1))
	assert.ErrorIs(t, err, ErrMalformedPaymasterData)

	_, err = ParseSponsorshipData(nil)
	assert.ErrorIs(t, err, ErrMalformedPaymasterData)
}

func TestParseSponsorshipDataBadSignatureLength(t *testing.T) {
	// 66-byte signature segment: neither compact nor canonical
	_, err := ParseSponsorshipData(make([]byte, signatureOffset+66))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPaymasterData))
}

func TestEncodeForSigningExcludesSignature(t *testing.T) {
	data := &SponsorshipData{
		SponsorID:   common.HexToAddress("0x3333333333333333333333333333333333333333"),
		ValidUntil:  500,
		ValidAfter:  100,
		PriceMarkup: 1_000_000,
		Signature:   bytes.Repeat([]byte{0xff}, CanonicalSignatureLength),
	}

	unsigned := data.EncodeForSigning()
	assert.Len(t, unsigned, signatureOffset)
	assert.Equal(t, unsigned, data.Encode()[:signatureOffset])
}

func TestVerifyingDataRoundTrip(t *testing.T) {
	original := &VerifyingData{
		ValidUntil: 1700000000,
		ValidAfter: 1690000000,
		Signature:  bytes.Repeat([]byte{0x11}, CanonicalSignatureLength),
	}

	parsed, err := ParseVerifyingData(original.Encode())
	require.NoError(t, err)

	assert.Equal(t, original.ValidUntil, parsed.ValidUntil)
	assert.Equal(t, original.ValidAfter, parsed.ValidAfter)
	assert.Equal(t, original.Signature, parsed.Signature)
}

func TestParseVerifyingDataTooShort(t *testing.T) {
	_, err := ParseVerifyingData(make([]byte, verifyingSignatureOffset))
	assert.ErrorIs(t, err, ErrMalformedPaymasterData)
}

func TestUint48Bounds(t *testing.T) {
	var buf [6]byte
	max := uint64(1)<<48 - 1

	putUint48(buf[:], max)
	assert.Equal(t, max, uint48(buf[:]))

	putUint48(buf[:], 0)
	assert.Equal(t, uint64(0), uint48(buf[:]))
}
