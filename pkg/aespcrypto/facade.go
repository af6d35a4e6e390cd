// Package aespcrypto defines the Crypto façade capability interface
// AESP Core depends on (spec.md §6) and ships one reference
// implementation behind it. The core never assumes which concrete
// implementation is wired in; production deployments are expected to
// supply an HSM- or chain-SDK-backed Facade instead.
package aespcrypto

import "context"

// ChildKey is the result of deterministic key derivation at a path.
type ChildKey struct {
	PublicKey      []byte
	DerivationPath string
}

// Signature is an opaque signature blob plus the scheme that produced
// it, so verification can dispatch correctly.
type Signature struct {
	Scheme string // "ed25519", "secp256k1", "synthetic"
	Bytes  []byte
}

// Ciphertext is the result of authenticated encryption for a recipient
// identity.
type Ciphertext struct {
	Bytes     []byte
	Ephemeral []byte // ephemeral public key used for the X25519 exchange
}

// Facade is the capability interface every AESP subsystem is handed at
// construction time. All methods may be called from a single
// cooperative continuation; implementations that must suspend (e.g. an
// HSM round-trip) should do so internally without violating that the
// core itself never blocks a second in-flight continuation on this
// call.
type Facade interface {
	// DeriveMaster derives the master keypair from a BIP-style mnemonic
	// and passphrase. Implementations that cannot expose a master key
	// directly (e.g. a remote HSM) may return an opaque handle as
	// publicKey and reject DeriveChild calls that need it; core callers
	// treat DeriveChild's failure as ErrNoDirectDerivation and fall back
	// per spec.md §4.1.
	DeriveMaster(ctx context.Context, mnemonic, passphrase string) (masterPublicKey []byte, err error)

	// DeriveChild performs direct HD child derivation at path, deriving
	// from the same mnemonic/passphrase pair used in DeriveMaster. It
	// returns ErrNoDirectDerivation when the façade cannot do this
	// (e.g. synthetic-only backends), signalling identity.Derive to use
	// its signature-hash fallback.
	DeriveChild(ctx context.Context, mnemonic, passphrase, path string) (*ChildKey, error)

	// Sign produces a signature over msg under the deterministic label
	// (a domain-separation tag AESP mixes into the signing input, e.g.
	// "aesp:agent:derive:7") using the keypair derived from
	// mnemonic/passphrase/path.
	Sign(ctx context.Context, mnemonic, passphrase, path string, label string, msg []byte) (*Signature, error)

	// SignWithOwnerIdentity signs msg using the owner's identity keypair
	// (not a per-agent derived key) — used for certificate issuance.
	SignWithOwnerIdentity(ctx context.Context, ownerIdentity string, msg []byte) (*Signature, error)

	// VerifyWithIdentity verifies sig over msg against the keypair
	// identified by identity (an opaque identity string the façade
	// resolves to a public key — a DID, an owner identity, or an
	// agent's own identity for self-verification).
	VerifyWithIdentity(ctx context.Context, identity string, msg []byte, sig *Signature) (bool, error)

	// SignTypedData signs structured domain/value data (EIP-712-style)
	// for commitments and negotiation acceptance messages.
	SignTypedData(ctx context.Context, identity string, domain, value interface{}) (*Signature, error)

	// Encrypt performs authenticated (X25519+AEAD) encryption of
	// plaintext for recipientIdentity.
	Encrypt(ctx context.Context, recipientIdentity string, plaintext []byte) (*Ciphertext, error)

	// Decrypt reverses Encrypt for ownerIdentity.
	Decrypt(ctx context.Context, ownerIdentity string, ct *Ciphertext) ([]byte, error)

	// SharedSecret computes an X25519 shared secret between ownerIdentity
	// and counterpartyIdentity, used when a subsystem needs a symmetric
	// key without a full Encrypt/Decrypt round trip.
	SharedSecret(ctx context.Context, ownerIdentity, counterpartyIdentity string) ([]byte, error)

	// SHA256 hashes data. Exposed on the façade (rather than called
	// directly from crypto/sha256 in every subsystem) so a deployment
	// can swap in a hardware-accelerated or FIPS-validated
	// implementation without touching subsystem code.
	SHA256(data []byte) []byte

	// SecureRandom returns n cryptographically secure random bytes.
	SecureRandom(n int) ([]byte, error)

	// NewUUID returns a fresh UUID string (spec.md §6: "UUID generation").
	NewUUID() string

	// SupportsContextIsolatedDerivation reports whether DeriveEVMContext /
	// DeriveNonEVMContext / DeriveUnifiedContext are usable. The Privacy
	// subsystem requires this; its absence is ErrRev32Required.
	SupportsContextIsolatedDerivation() bool

	// DeriveEVMContext derives an EVM-family address for contextString.
	// Returns ErrContextAPIUnavailable if the façade only exposes the
	// unified context API; callers fall back to DeriveUnifiedContext.
	DeriveEVMContext(ctx context.Context, ownerIdentity, contextString string) (address string, err error)

	// DeriveNonEVMContext derives a non-EVM (e.g. Solana, Cosmos)
	// address for contextString and chain. Same fallback contract as
	// DeriveEVMContext.
	DeriveNonEVMContext(ctx context.Context, ownerIdentity, chain, contextString string) (address string, err error)

	// DeriveUnifiedContext derives a chain-parameterized address from a
	// single unified context API. Always available when
	// SupportsContextIsolatedDerivation is true.
	DeriveUnifiedContext(ctx context.Context, ownerIdentity, chain, contextString string) (address string, err error)
}
