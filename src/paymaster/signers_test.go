package paymaster

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCodeReader reports code for a fixed set of addresses.
type fakeCodeReader struct {
	contracts map[common.Address]bool
}

func (f *fakeCodeReader) CodeAt(_ context.Context, account common.Address) ([]byte, error) {
	if f.contracts[account] {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

var (
	testAdmin = AdminCapabilityFromSecret([]byte("test-admin-secret"))
	signerA   = common.HexToAddress("0xaaa0000000000000000000000000000000000001")
	signerB   = common.HexToAddress("0xbbb0000000000000000000000000000000000002")
)

func newTestRegistry(t *testing.T) *SignerRegistry {
	r, err := NewSignerRegistry(context.Background(), testAdmin, &fakeCodeReader{}, nil, []common.Address{signerA})
	require.NoError(t, err)
	return r
}

func TestNewSignerRegistryRequiresSigners(t *testing.T) {
	_, err := NewSignerRegistry(context.Background(), testAdmin, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoInitialSigners)
}

func TestNewSignerRegistryRejectsZeroAddress(t *testing.T) {
	_, err := NewSignerRegistry(context.Background(), testAdmin, nil, nil, []common.Address{{}})
	assert.ErrorIs(t, err, ErrZeroAddressSigner)
}

func TestAddSignerRequiresCapability(t *testing.T) {
	r := newTestRegistry(t)

	wrong := AdminCapabilityFromSecret([]byte("wrong-secret"))
	err := r.AddSigner(context.Background(), wrong, signerB)
	assert.ErrorIs(t, err, ErrInvalidAdminCapability)
	assert.False(t, r.IsSigner(signerB))

	require.NoError(t, r.AddSigner(context.Background(), testAdmin, signerB))
	assert.True(t, r.IsSigner(signerB))
}

func TestAddSignerRejectsDuplicate(t *testing.T) {
	r := newTestRegistry(t)

	err := r.AddSigner(context.Background(), testAdmin, signerA)
	assert.ErrorIs(t, err, ErrSignerAlreadyRegistered)
}

func TestAddSignerRejectsContract(t *testing.T) {
	contract := common.HexToAddress("0xccc0000000000000000000000000000000000003")
	code := &fakeCodeReader{contracts: map[common.Address]bool{contract: true}}

	r, err := NewSignerRegistry(context.Background(), testAdmin, code, nil, []common.Address{signerA})
	require.NoError(t, err)

	err = r.AddSigner(context.Background(), testAdmin, contract)
	assert.ErrorIs(t, err, ErrContractSignerNotAllowed)
}

func TestRemoveSigner(t *testing.T) {
	r := newTestRegistry(t)

	err := r.RemoveSigner(context.Background(), testAdmin, signerB)
	assert.ErrorIs(t, err, ErrSignerNotRegistered)

	require.NoError(t, r.RemoveSigner(context.Background(), testAdmin, signerA))
	assert.False(t, r.IsSigner(signerA))
	assert.Empty(t, r.Signers())
}

func TestRecoverSignerCanonical(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	digest := crypto.Keccak256Hash([]byte("sponsorship digest"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	// Raw recovery id form
	recovered, ok := RecoverSigner(digest, sig)
	require.True(t, ok)
	assert.Equal(t, addr, recovered)

	// Ethereum 27/28 form
	sig[64] += 27
	recovered, ok = RecoverSigner(digest, sig)
	require.True(t, ok)
	assert.Equal(t, addr, recovered)
}

func TestRecoverSignerCompact(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	digest := crypto.Keccak256Hash([]byte("compact signature digest"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	// Build the EIP-2098 form: fold the parity bit into the top bit of s.
	compact := make([]byte, CompactSignatureLength)
	copy(compact[:32], sig[:32])
	copy(compact[32:], sig[32:64])
	compact[32] |= sig[64] << 7

	recovered, ok := RecoverSigner(digest, compact)
	require.True(t, ok)
	assert.Equal(t, addr, recovered)
}

func TestRecoverSignerRejectsBadLength(t *testing.T) {
	digest := crypto.Keccak256Hash([]byte("digest"))

	_, ok := RecoverSigner(digest, make([]byte, 63))
	assert.False(t, ok)

	_, ok = RecoverSigner(digest, make([]byte, 66))
	assert.False(t, ok)

	_, ok = RecoverSigner(digest, nil)
	assert.False(t, ok)
}

func TestVerifySponsorshipSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	r, err := NewSignerRegistry(context.Background(), testAdmin, nil, nil, []common.Address{addr})
	require.NoError(t, err)

	digest := crypto.Keccak256Hash([]byte("verify me"))
	sig, err := crypto.Sign(digest.Bytes(), key)
	require.NoError(t, err)

	recovered, ok := r.VerifySponsorshipSignature(digest, sig)
	assert.True(t, ok)
	assert.Equal(t, addr, recovered)

	// An unregistered key recovers but does not verify
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherSig, err := crypto.Sign(digest.Bytes(), otherKey)
	require.NoError(t, err)

	_, ok = r.VerifySponsorshipSignature(digest, otherSig)
	assert.False(t, ok)

	// Garbage does not verify
	_, ok = r.VerifySponsorshipSignature(digest, make([]byte, CanonicalSignatureLength))
	assert.False(t, ok)
}
