package aespcrypto

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceFacade_DeriveChild_DeterministicAndDistinct(t *testing.T) {
	f := NewReferenceFacade()
	ctx := context.Background()

	k1a, err := f.DeriveChild(ctx, "mnemonic", "pass", "m/44'/501'/0'/0'/1'")
	require.NoError(t, err)
	k1b, err := f.DeriveChild(ctx, "mnemonic", "pass", "m/44'/501'/0'/0'/1'")
	require.NoError(t, err)
	assert.Equal(t, k1a.PublicKey, k1b.PublicKey, "re-derivation must be bytewise-equal")

	k2, err := f.DeriveChild(ctx, "mnemonic", "pass", "m/44'/501'/0'/0'/2'")
	require.NoError(t, err)
	assert.NotEqual(t, k1a.PublicKey, k2.PublicKey)
}

func TestReferenceFacade_SignVerify(t *testing.T) {
	f := NewReferenceFacade()
	ctx := context.Background()
	msg := []byte("hello")
	sig, err := f.Sign(ctx, "m", "p", "m/44'/501'/0'/0'/0'", "aesp:agent:derive:0", msg)
	require.NoError(t, err)
	assert.Equal(t, "ed25519", sig.Scheme)
}

func TestReferenceFacade_EncryptDecryptRoundTrip(t *testing.T) {
	f := NewReferenceFacade()
	ctx := context.Background()
	plaintext := []byte("agent message payload")
	ct, err := f.Encrypt(ctx, "agent-owner-1", plaintext)
	require.NoError(t, err)
	pt, err := f.Decrypt(ctx, "agent-owner-1", ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, pt)
}

func TestReferenceFacade_SharedSecretSymmetric(t *testing.T) {
	f := NewReferenceFacade()
	ctx := context.Background()
	s1, err := f.SharedSecret(ctx, "alice", "bob")
	require.NoError(t, err)
	s2, err := f.SharedSecret(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}

func TestNoChildDerivationFacade_ForcesFallback(t *testing.T) {
	wrapped := &NoChildDerivationFacade{Facade: NewReferenceFacade()}
	_, err := wrapped.DeriveChild(context.Background(), "m", "p", "path")
	assert.ErrorIs(t, err, ErrNoDirectDerivation)
}
