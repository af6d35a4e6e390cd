package identity

import (
	"context"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/canonjson"
)

const CertificateVersion = "1"

// CreateCertificate issues a Certificate binding identity to
// capabilities under ownerIdentity, signing the canonical payload with
// the owner's key (not the agent's own key — an agent never certifies
// itself).
func CreateCertificate(
	ctx context.Context,
	facade aespcrypto.Facade,
	agent *AgentIdentity,
	ownerIdentity string,
	capabilities []Capability,
	policyHash string,
	maxAutonomousAmount uint64,
	chains []string,
	ttl time.Duration,
	now time.Time,
) (*Certificate, error) {
	cert := &Certificate{
		Version:             CertificateVersion,
		AgentID:             agent.AgentID,
		PubKey:              agent.PublicKey,
		OwnerXIdentity:      ownerIdentity,
		Capabilities:        capabilities,
		PolicyHash:          policyHash,
		MaxAutonomousAmount: maxAutonomousAmount,
		Chains:              chains,
		CreatedAt:           now,
		ExpiresAt:           now.Add(ttl),
	}

	payload, err := signingPayload(cert)
	if err != nil {
		return nil, err
	}
	sig, err := facade.SignWithOwnerIdentity(ctx, ownerIdentity, payload)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "sign certificate", err)
	}
	cert.OwnerSignature = sig.Bytes
	cert.OwnerSignatureScheme = sig.Scheme
	return cert, nil
}

// VerifyCertificate checks cert's owner signature and expiry. trustAnchor,
// if non-empty, is the only identity this verification accepts as
// ownerXidentity — this is the security-bearing path and is what
// production deployments must use. An empty trustAnchor falls back to
// self-verification: it only confirms the embedded key signed itself,
// never that ownerXidentity is who it claims to be, so it must not be
// treated as an authorization decision.
func VerifyCertificate(ctx context.Context, facade aespcrypto.Facade, cert *Certificate, trustAnchor string, now time.Time) (bool, error) {
	if now.After(cert.ExpiresAt) {
		return false, nil
	}
	if trustAnchor != "" && cert.OwnerXIdentity != trustAnchor {
		return false, nil
	}
	payload, err := signingPayload(cert)
	if err != nil {
		return false, err
	}
	ok, err := facade.VerifyWithIdentity(ctx, cert.OwnerXIdentity, payload, &aespcrypto.Signature{Scheme: cert.OwnerSignatureScheme, Bytes: cert.OwnerSignature})
	if err != nil {
		return false, aesperrors.Wrap(aesperrors.CryptoError, "verify certificate signature", err)
	}
	return ok, nil
}

func signingPayload(cert *Certificate) ([]byte, error) {
	fields := map[string]interface{}{
		"version":             cert.Version,
		"agentId":             cert.AgentID,
		"pubkey":              cert.PubKey,
		"ownerXidentity":      cert.OwnerXIdentity,
		"capabilities":        cert.Capabilities,
		"policyHash":          cert.PolicyHash,
		"maxAutonomousAmount": cert.MaxAutonomousAmount,
		"chains":              cert.Chains,
		"createdAt":           cert.CreatedAt,
		"expiresAt":           cert.ExpiresAt,
	}
	payload, err := canonjson.MarshalOrdered(fields, signedFieldOrder)
	if err != nil {
		return nil, aesperrors.Wrap(aesperrors.CryptoError, "canonicalize certificate payload", err)
	}
	return payload, nil
}

// HasCapability reports whether cert authorizes cap.
func (c *Certificate) HasCapability(cap Capability) bool {
	for _, have := range c.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}
