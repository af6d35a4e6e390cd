package identity

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
)

const maxAgentIndex = (1 << 31) - 1

// Derive computes the deterministic identity of agentIndex under
// mnemonic/passphrase. It is pure given its inputs and the façade's own
// determinism: re-deriving with the same arguments always yields
// bytewise-equal results (spec.md §8).
func Derive(ctx context.Context, facade aespcrypto.Facade, mnemonic, passphrase string, agentIndex int) (*AgentIdentity, error) {
	if agentIndex < 0 || agentIndex > maxAgentIndex {
		return nil, aesperrors.New(aesperrors.InvalidAgentIndex, fmt.Sprintf("agentIndex %d out of range [0, %d]", agentIndex, maxAgentIndex))
	}

	path := fmt.Sprintf("m/44'/501'/0'/0'/%d'", agentIndex)

	pubKey, synthetic, err := derivePublicKey(ctx, facade, mnemonic, passphrase, path, agentIndex)
	if err != nil {
		return nil, err
	}

	agentID := hex.EncodeToString(facade.SHA256(pubKey))
	return &AgentIdentity{
		AgentID:        agentID,
		DID:            "did:aesp:" + agentID,
		PublicKey:      pubKey,
		DerivationPath: path,
		Synthetic:      synthetic,
	}, nil
}

// derivePublicKey picks the direct-derivation or signature-hash-fallback
// path per spec.md §4.1.
func derivePublicKey(ctx context.Context, facade aespcrypto.Facade, mnemonic, passphrase, path string, agentIndex int) ([]byte, bool, error) {
	child, err := facade.DeriveChild(ctx, mnemonic, passphrase, path)
	if err == nil {
		return child.PublicKey, false, nil
	}
	if !errors.Is(err, aespcrypto.ErrNoDirectDerivation) {
		return nil, false, aesperrors.Wrap(aesperrors.CryptoError, "derive child key", err)
	}

	label := fmt.Sprintf("aesp:agent:derive:%d", agentIndex)
	sig, err := facade.Sign(ctx, mnemonic, passphrase, "m", label, []byte(label))
	if err != nil {
		return nil, false, aesperrors.Wrap(aesperrors.CryptoError, "sign synthetic derivation message", err)
	}
	return facade.SHA256(sig.Bytes), true, nil
}
