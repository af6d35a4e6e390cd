package aespcrypto

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/awgh/bencrypt/bc"
	"github.com/awgh/bencrypt/ecc"
	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// sharedSecretSize is the expanded shared-secret length SharedSecret
// returns — sized for a 256-bit AEAD key, though callers are free to
// truncate or further derive from it.
const sharedSecretSize = 32

// ReferenceFacade is a deterministic, in-memory Crypto façade suitable
// for tests, demos, and local development. It is not a production
// crypto stack: keys live only in process memory and "chains" are
// simulated by deterministic byte-string projection rather than real
// on-chain address encoding.
//
// Two key systems are in play:
//   - Deterministic per-path derivation (DeriveMaster/DeriveChild/Sign)
//     is pure HKDF-SHA256 expansion over (mnemonic, passphrase, path) —
//     no randomness, re-derivation is bytewise-equal by construction.
//   - Per-identity owner/agent keys (SignWithOwnerIdentity, Encrypt,
//     SharedSecret) are bencrypt ECC keypairs plus a companion X25519
//     keypair, auto-provisioned the first time an identity string is
//     seen and cached for the lifetime of the façade.
type ReferenceFacade struct {
	mu         sync.Mutex
	identities map[string]*identityMaterial
}

type identityMaterial struct {
	kp        bc.KeyPair // bencrypt ECC keypair: signing + authenticated encryption
	x25519Priv [32]byte
	x25519Pub  [32]byte
}

// NewReferenceFacade constructs an empty ReferenceFacade.
func NewReferenceFacade() *ReferenceFacade {
	return &ReferenceFacade{identities: make(map[string]*identityMaterial)}
}

func (f *ReferenceFacade) getOrCreate(identity string) (*identityMaterial, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.identities[identity]; ok {
		return m, nil
	}
	kp := new(ecc.KeyPair)
	if err := kp.GenerateKey(); err != nil {
		return nil, aesperrorsWrap("bencrypt keygen failed", err)
	}
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, aesperrorsWrap("x25519 keygen failed", err)
	}
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, aesperrorsWrap("x25519 base-point multiplication failed", err)
	}
	m := &identityMaterial{kp: kp}
	copy(m.x25519Priv[:], priv[:])
	copy(m.x25519Pub[:], pub)
	f.identities[identity] = m
	return m, nil
}

// deterministicSeed expands (mnemonic, passphrase, path) into a 32-byte
// ed25519 seed with HKDF-SHA256. Re-derivation with identical inputs is
// bytewise-equal because HKDF is a pure function of its inputs.
func deterministicSeed(mnemonic, passphrase, path string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, []byte(mnemonic), []byte("aesp:hd-salt:"+passphrase), []byte(path))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func (f *ReferenceFacade) DeriveMaster(ctx context.Context, mnemonic, passphrase string) ([]byte, error) {
	return f.deriveChildPubkey(mnemonic, passphrase, "m")
}

func (f *ReferenceFacade) DeriveChild(ctx context.Context, mnemonic, passphrase, path string) (*ChildKey, error) {
	pub, err := f.deriveChildPubkey(mnemonic, passphrase, path)
	if err != nil {
		return nil, err
	}
	return &ChildKey{PublicKey: pub, DerivationPath: path}, nil
}

func (f *ReferenceFacade) deriveChildPubkey(mnemonic, passphrase, path string) ([]byte, error) {
	seed, err := deterministicSeed(mnemonic, passphrase, path)
	if err != nil {
		return nil, aesperrorsWrap("derive seed", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return []byte(pub), nil
}

func (f *ReferenceFacade) Sign(ctx context.Context, mnemonic, passphrase, path string, label string, msg []byte) (*Signature, error) {
	seed, err := deterministicSeed(mnemonic, passphrase, path)
	if err != nil {
		return nil, aesperrorsWrap("derive seed", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	labeled := append([]byte(label), msg...)
	sig := ed25519.Sign(priv, labeled)
	return &Signature{Scheme: "ed25519", Bytes: sig}, nil
}

func (f *ReferenceFacade) SignWithOwnerIdentity(ctx context.Context, ownerIdentity string, msg []byte) (*Signature, error) {
	m, err := f.getOrCreate(ownerIdentity)
	if err != nil {
		return nil, err
	}
	return &Signature{Scheme: "bencrypt-ecc", Bytes: m.kp.Sign(msg)}, nil
}

func (f *ReferenceFacade) VerifyWithIdentity(ctx context.Context, identity string, msg []byte, sig *Signature) (bool, error) {
	m, err := f.getOrCreate(identity)
	if err != nil {
		return false, err
	}
	switch sig.Scheme {
	case "bencrypt-ecc":
		return m.kp.Verify(msg, sig.Bytes), nil
	case "ed25519":
		return ed25519.Verify(ed25519.PublicKey(m.kp.GetPubKey().ToBuffer()), msg, sig.Bytes), nil
	default:
		return false, fmt.Errorf("aespcrypto: unknown signature scheme %q", sig.Scheme)
	}
}

func (f *ReferenceFacade) SignTypedData(ctx context.Context, identity string, domain, value interface{}) (*Signature, error) {
	payload, err := typedDataDigest(domain, value)
	if err != nil {
		return nil, aesperrorsWrap("typed data digest", err)
	}
	return f.SignWithOwnerIdentity(ctx, identity, payload)
}

func (f *ReferenceFacade) Encrypt(ctx context.Context, recipientIdentity string, plaintext []byte) (*Ciphertext, error) {
	m, err := f.getOrCreate(recipientIdentity)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{Bytes: m.kp.Encrypt(plaintext)}, nil
}

func (f *ReferenceFacade) Decrypt(ctx context.Context, ownerIdentity string, ct *Ciphertext) ([]byte, error) {
	m, err := f.getOrCreate(ownerIdentity)
	if err != nil {
		return nil, err
	}
	pt, err := m.kp.Decrypt(ct.Bytes)
	if err != nil {
		return nil, aesperrorsWrap("bencrypt decrypt failed", err)
	}
	return pt, nil
}

// SharedSecret computes an X25519 ECDH shared secret between the two
// identities' companion curve25519 keypairs, then runs it through
// HKDF-SHA256 so the returned bytes are a uniformly-distributed key
// rather than a raw curve point.
func (f *ReferenceFacade) SharedSecret(ctx context.Context, ownerIdentity, counterpartyIdentity string) ([]byte, error) {
	owner, err := f.getOrCreate(ownerIdentity)
	if err != nil {
		return nil, err
	}
	counterparty, err := f.getOrCreate(counterpartyIdentity)
	if err != nil {
		return nil, err
	}
	raw, err := curve25519.X25519(owner.x25519Priv[:], counterparty.x25519Pub[:])
	if err != nil {
		return nil, aesperrorsWrap("x25519 exchange failed", err)
	}
	kdf := hkdf.New(sha256.New, raw, nil, []byte("aesp:shared-secret"))
	out := make([]byte, sharedSecretSize)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, aesperrorsWrap("shared secret expansion failed", err)
	}
	return out, nil
}

func (f *ReferenceFacade) SHA256(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func (f *ReferenceFacade) SecureRandom(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return nil, aesperrorsWrap("secure random failed", err)
	}
	return buf, nil
}

func (f *ReferenceFacade) NewUUID() string {
	return uuid.NewString()
}

func aesperrorsWrap(msg string, err error) error {
	return fmt.Errorf("aespcrypto: %s: %w", msg, err)
}
