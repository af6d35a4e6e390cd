package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
)

func TestDerive_DeterministicAndDistinct(t *testing.T) {
	ctx := context.Background()
	facade := aespcrypto.NewReferenceFacade()

	a1, err := Derive(ctx, facade, "mnemonic", "pass", 7)
	require.NoError(t, err)
	a2, err := Derive(ctx, facade, "mnemonic", "pass", 7)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	a3, err := Derive(ctx, facade, "mnemonic", "pass", 8)
	require.NoError(t, err)
	assert.NotEqual(t, a1.AgentID, a3.AgentID)
	assert.NotEqual(t, a1.DerivationPath, a3.DerivationPath)
	assert.Equal(t, "m/44'/501'/0'/0'/7'", a1.DerivationPath)
	assert.Equal(t, "did:aesp:"+a1.AgentID, a1.DID)
}

func TestDerive_InvalidAgentIndex(t *testing.T) {
	ctx := context.Background()
	facade := aespcrypto.NewReferenceFacade()

	_, err := Derive(ctx, facade, "mnemonic", "pass", -1)
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.InvalidAgentIndex))

	_, err = Derive(ctx, facade, "mnemonic", "pass", maxAgentIndex+1)
	require.Error(t, err)
	assert.True(t, aesperrors.Is(err, aesperrors.InvalidAgentIndex))
}

func TestDerive_SyntheticFallback(t *testing.T) {
	ctx := context.Background()
	facade := &aespcrypto.NoChildDerivationFacade{Facade: aespcrypto.NewReferenceFacade()}

	agent, err := Derive(ctx, facade, "mnemonic", "pass", 3)
	require.NoError(t, err)
	assert.True(t, agent.Synthetic)
	assert.Len(t, agent.PublicKey, 32) // SHA-256 digest length
}

func TestCertificate_CreateAndVerifyRoundTrip(t *testing.T) {
	ctx := context.Background()
	facade := aespcrypto.NewReferenceFacade()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	agent, err := Derive(ctx, facade, "mnemonic", "pass", 1)
	require.NoError(t, err)

	cert, err := CreateCertificate(ctx, facade, agent, "owner:alice",
		[]Capability{CapPayment, CapNegotiation}, "policy-hash-abc", 1000, []string{"sol"}, 24*time.Hour, now)
	require.NoError(t, err)
	assert.True(t, cert.HasCapability(CapPayment))
	assert.False(t, cert.HasCapability(CapCommitment))

	ok, err := VerifyCertificate(ctx, facade, cert, "owner:alice", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	// A trust anchor that doesn't match ownerXidentity rejects outright.
	ok, err = VerifyCertificate(ctx, facade, cert, "owner:mallory", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// Expired certificates fail verification without a crypto error.
	ok, err = VerifyCertificate(ctx, facade, cert, "", now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	// Tampering with a signed field invalidates the signature.
	cert.MaxAutonomousAmount = 999999
	ok, err = VerifyCertificate(ctx, facade, cert, "", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}
