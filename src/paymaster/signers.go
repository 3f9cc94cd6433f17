package paymaster

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AdminCapability is the credential required for privileged registry
// operations. It is derived from a shared secret; holding the capability
// is the authorization, there is no ambient owner state.
type AdminCapability struct {
	token common.Hash
}

// AdminCapabilityFromSecret derives a capability from a raw secret.
func AdminCapabilityFromSecret(secret []byte) AdminCapability {
	return AdminCapability{token: crypto.Keccak256Hash(secret)}
}

func (c AdminCapability) matches(other AdminCapability) bool {
	return subtle.ConstantTimeCompare(c.token[:], other.token[:]) == 1
}

// CodeReader probes whether an address has deployed code. Signer
// candidates with code are rejected: the protocol assumes plain ECDSA
// keys, not contract-based signature validation.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
}

// SignerRegistry maintains the set of addresses authorized to produce
// sponsorship signatures.
type SignerRegistry struct {
	mu      sync.RWMutex
	admin   AdminCapability
	signers map[common.Address]bool
	code    CodeReader
	events  EventSink
}

// NewSignerRegistry constructs a registry with the given initial signers.
// Each candidate goes through the same checks as AddSigner; construction
// fails when no valid signer remains.
func NewSignerRegistry(ctx context.Context, admin AdminCapability, code CodeReader, events EventSink, initial []common.Address) (*SignerRegistry, error) {
	if events == nil {
		events = nopSink{}
	}
	r := &SignerRegistry{
		admin:   admin,
		signers: make(map[common.Address]bool),
		code:    code,
		events:  events,
	}

	for _, addr := range initial {
		if err := r.register(ctx, addr); err != nil {
			return nil, err
		}
	}
	if len(r.signers) == 0 {
		return nil, ErrNoInitialSigners
	}
	return r, nil
}

// AddSigner registers a new sponsorship signer. Requires the
// administrative capability.
func (r *SignerRegistry) AddSigner(ctx context.Context, cap AdminCapability, addr common.Address) error {
	if !r.admin.matches(cap) {
		return ErrInvalidAdminCapability
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.register(ctx, addr); err != nil {
		return err
	}
	r.events.Emit(ctx, SignerAdded{Signer: addr})
	return nil
}

// register performs the shared add checks. Callers other than the
// constructor must hold the write lock.
func (r *SignerRegistry) register(ctx context.Context, addr common.Address) error {
	if addr == (common.Address{}) {
		return ErrZeroAddressSigner
	}
	if r.signers[addr] {
		return fmt.Errorf("%w: %s", ErrSignerAlreadyRegistered, addr.Hex())
	}
	if r.code != nil {
		code, err := r.code.CodeAt(ctx, addr)
		if err != nil {
			return fmt.Errorf("code probe for %s failed: %w", addr.Hex(), err)
		}
		if len(code) > 0 {
			return fmt.Errorf("%w: %s", ErrContractSignerNotAllowed, addr.Hex())
		}
	}
	r.signers[addr] = true
	return nil
}

// RemoveSigner revokes a signer. Requires the administrative capability.
func (r *SignerRegistry) RemoveSigner(ctx context.Context, cap AdminCapability, addr common.Address) error {
	if !r.admin.matches(cap) {
		return ErrInvalidAdminCapability
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.signers[addr] {
		return fmt.Errorf("%w: %s", ErrSignerNotRegistered, addr.Hex())
	}
	delete(r.signers, addr)
	r.events.Emit(ctx, SignerRemoved{Signer: addr})
	return nil
}

// IsSigner reports registry membership.
func (r *SignerRegistry) IsSigner(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.signers[addr]
}

// Signers returns the current membership snapshot.
func (r *SignerRegistry) Signers() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.signers))
	for addr := range r.signers {
		out = append(out, addr)
	}
	return out
}

// VerifySponsorshipSignature recovers the signing address for digest and
// reports whether it is a registered signer. Invalid signatures are
// reported through the ok flag, never as an error: the validation path
// must not abort on bad sponsorship data.
func (r *SignerRegistry) VerifySponsorshipSignature(digest common.Hash, sig []byte) (common.Address, bool) {
	signer, ok := RecoverSigner(digest, sig)
	if !ok {
		return common.Address{}, false
	}
	return signer, r.IsSigner(signer)
}

// RecoverSigner performs secp256k1 recovery on a 64-byte compact
// (EIP-2098) or 65-byte canonical signature. Recovery is deterministic:
// the same digest and signature always yield the same address.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, bool) {
	var canonical [CanonicalSignatureLength]byte

	switch len(sig) {
	case CanonicalSignatureLength:
		copy(canonical[:], sig)
		// Normalize v from 27/28 to the 0/1 recovery id.
		if canonical[64] >= 27 {
			canonical[64] -= 27
		}
	case CompactSignatureLength:
		copy(canonical[:32], sig[:32])   // r
		copy(canonical[32:64], sig[32:]) // s with embedded parity bit
		canonical[64] = canonical[32] >> 7
		canonical[32] &= 0x7f
	default:
		return common.Address{}, false
	}

	if canonical[64] > 1 {
		return common.Address{}, false
	}

	pubkey, err := crypto.SigToPub(digest.Bytes(), canonical[:])
	if err != nil {
		return common.Address{}, false
	}
	return crypto.PubkeyToAddress(*pubkey), true
}
