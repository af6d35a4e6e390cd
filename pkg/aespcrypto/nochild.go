package aespcrypto

import "context"

// NoChildDerivationFacade wraps a Facade and forces DeriveChild to
// always report ErrNoDirectDerivation, regardless of what the wrapped
// façade can actually do. It exists to exercise identity.Derive's
// synthetic-public-key fallback path (spec.md §4.1) in tests and in
// deployments that intentionally want every derivation to go through
// the signature-hash path — spec.md's open question notes that some
// deployments may want to *reject* the fallback instead of silently
// accepting it; this type makes the fallback the only path, which is
// the conservative choice when a deployer cannot audit which physical
// key material DeriveChild would otherwise expose.
type NoChildDerivationFacade struct {
	Facade
}

// DeriveChild always fails with ErrNoDirectDerivation.
func (n *NoChildDerivationFacade) DeriveChild(ctx context.Context, mnemonic, passphrase, path string) (*ChildKey, error) {
	return nil, ErrNoDirectDerivation
}
