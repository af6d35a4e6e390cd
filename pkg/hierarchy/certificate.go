package hierarchy

import (
	"context"
	"time"

	"github.com/aesp-labs/aesp-core/pkg/aespcrypto"
	"github.com/aesp-labs/aesp-core/pkg/aesperrors"
	"github.com/aesp-labs/aesp-core/pkg/identity"
)

// CertNarrowing is what a parent may additionally restrict when issuing
// a child certificate. Every field is a *subset* constraint: a child may
// never gain a capability, chain, or ceiling its parent lacks. This is
// the attenuation rule the teacher's DCT.Attenuate expressed as
// monotonic caveat accumulation; here it is expressed directly as
// certificate-field narrowing rather than an appended restriction list.
type CertNarrowing struct {
	Capabilities        []identity.Capability
	Chains              []string
	MaxAutonomousAmount uint64
	TTL                 time.Duration
}

// IssueChildCertificate mints a certificate for childAgent under
// parentAgentID, narrowed by narrowing and bound to parentCert's own
// ceilings: every requested capability/chain must already be present on
// parentCert, and the requested ceiling may not exceed the parent's.
// If parentAgentID is not yet a node in the tree it is added as a root
// (labelled parentLabel); childAgent's AgentID is then added as its
// child before the certificate is issued.
func (t *Tree) IssueChildCertificate(
	ctx context.Context,
	facade aespcrypto.Facade,
	parentCert *identity.Certificate,
	parentAgentID, parentLabel string,
	childAgent *identity.AgentIdentity,
	childLabel string,
	narrowing CertNarrowing,
	now time.Time,
) (*identity.Certificate, error) {
	for _, cap := range narrowing.Capabilities {
		if !parentCert.HasCapability(cap) {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "child capability "+string(cap)+" exceeds parent certificate")
		}
	}
	for _, chain := range narrowing.Chains {
		if !containsString(parentCert.Chains, chain) {
			return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "child chain "+chain+" exceeds parent certificate")
		}
	}
	if narrowing.MaxAutonomousAmount > parentCert.MaxAutonomousAmount {
		return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "child maxAutonomousAmount exceeds parent certificate")
	}
	if now.Add(narrowing.TTL).After(parentCert.ExpiresAt) {
		return nil, aesperrors.New(aesperrors.InvalidCommitmentState, "child certificate would outlive parent certificate")
	}

	if _, ok := t.Get(parentAgentID); !ok {
		if _, err := t.AddRoot(ctx, parentAgentID, parentLabel); err != nil {
			return nil, err
		}
	}
	if _, err := t.AddChild(ctx, childAgent.AgentID, childLabel, parentAgentID); err != nil {
		return nil, err
	}

	return identity.CreateCertificate(ctx, facade, childAgent, parentCert.AgentID,
		narrowing.Capabilities, parentCert.PolicyHash, narrowing.MaxAutonomousAmount, narrowing.Chains, narrowing.TTL, now)
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
