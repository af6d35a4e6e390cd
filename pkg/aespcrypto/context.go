package aespcrypto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SupportsContextIsolatedDerivation is always true for ReferenceFacade:
// it implements the unified context API, which DeriveEVMContext and
// DeriveNonEVMContext both fall back to.
func (f *ReferenceFacade) SupportsContextIsolatedDerivation() bool { return true }

// DeriveEVMContext is unimplemented on ReferenceFacade; it signals
// callers to fall back to DeriveUnifiedContext, exercising the fallback
// path spec.md §4.7 describes ("if only a unified context API exists,
// it is called and the chain-specific address is projected from the
// result").
func (f *ReferenceFacade) DeriveEVMContext(ctx context.Context, ownerIdentity, contextString string) (string, error) {
	return "", ErrContextAPIUnavailable
}

// DeriveNonEVMContext has the same fallback contract as DeriveEVMContext.
func (f *ReferenceFacade) DeriveNonEVMContext(ctx context.Context, ownerIdentity, chain, contextString string) (string, error) {
	return "", ErrContextAPIUnavailable
}

// DeriveUnifiedContext derives a pseudo-address via HKDF-SHA256 keyed by
// ownerIdentity's X25519 private key, with chain as salt and
// contextString as info. That key is generated at random the first time
// this façade sees ownerIdentity, so results are deterministic for one
// ReferenceFacade instance but differ across instances. The projection
// is chain-flavored only in its display prefix — this façade does not
// implement real chain address encodings, which is explicitly out of
// scope for AESP Core (spec.md §1).
func (f *ReferenceFacade) DeriveUnifiedContext(ctx context.Context, ownerIdentity, chain, contextString string) (string, error) {
	m, err := f.getOrCreate(ownerIdentity)
	if err != nil {
		return "", err
	}
	kdf := hkdf.New(sha256.New, m.x25519Priv[:], []byte(chain), []byte(contextString))
	raw := make([]byte, 20)
	if _, err := io.ReadFull(kdf, raw); err != nil {
		return "", aesperrorsWrap("context derivation failed", err)
	}
	prefix := chainPrefix(chain)
	return prefix + hex.EncodeToString(raw), nil
}

func chainPrefix(chain string) string {
	switch chain {
	case "ethereum", "polygon", "arbitrum", "base", "optimism":
		return "0x"
	default:
		return chain + ":"
	}
}

// typedDataDigest hashes the canonical serialization of {domain, value}
// — the same shape commitment hashing and negotiation acceptance
// signing both use.
func typedDataDigest(domain, value interface{}) ([]byte, error) {
	return canonicalDigest(map[string]interface{}{"domain": domain, "value": value})
}
