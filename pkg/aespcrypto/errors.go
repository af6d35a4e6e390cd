package aespcrypto

import "github.com/aesp-labs/aesp-core/pkg/aesperrors"

// ErrNoDirectDerivation is returned by Facade.DeriveChild when the
// façade cannot perform direct HD child derivation; identity.Derive
// falls back to the signature-hash synthetic path per spec.md §4.1.
var ErrNoDirectDerivation = aesperrors.New(aesperrors.CryptoError, "facade has no direct child derivation")

// ErrContextAPIUnavailable is returned by DeriveEVMContext/
// DeriveNonEVMContext when only the unified context API is implemented.
var ErrContextAPIUnavailable = aesperrors.New(aesperrors.CryptoError, "chain-specific context derivation unavailable")

// ErrRev32Required is returned by the Privacy subsystem when the wired
// Facade does not support context-isolated derivation at all.
var ErrRev32Required = aesperrors.New(aesperrors.Rev32Required, "facade does not support context-isolated derivation")
