package policy

// ClassifyPolicyChange compares proposed against the existing policy
// (nil if none) and returns the change's escalation tier (spec.md
// §4.3). With no existing policy, the change is always ApprovalAuto —
// there is nothing to escalate relative to.
func ClassifyPolicyChange(proposed *Policy, existing *Policy) ChangeClassification {
	if existing == nil {
		return ChangeClassification{ApprovalLevel: ApprovalAuto}
	}

	var changes []CriticalChange
	var reasons []string
	note := func(c CriticalChange, reason string) {
		changes = append(changes, c)
		reasons = append(reasons, reason)
	}

	if raised(proposed.Conditions.MaxAmountPerTx, existing.Conditions.MaxAmountPerTx) ||
		raised(proposed.Conditions.MaxAmountPerDay, existing.Conditions.MaxAmountPerDay) ||
		raised(proposed.Conditions.MaxAmountPerWeek, existing.Conditions.MaxAmountPerWeek) ||
		raised(proposed.Conditions.MaxAmountPerMonth, existing.Conditions.MaxAmountPerMonth) {
		note(ChangeBudgetIncrease, "a maxAmount* limit was raised")
	}

	for _, addr := range proposed.Conditions.AllowListAddresses {
		if !containsString(existing.Conditions.AllowListAddresses, addr) {
			note(ChangeAllowlistAddressAdd, "a new address was added to the allow list")
			break
		}
	}
	if len(existing.Conditions.AllowListAddresses) > 0 && len(proposed.Conditions.AllowListAddresses) == 0 {
		note(ChangeAllowlistAddressRemoveAll, "the address allow list was cleared entirely")
	}

	if scopeRank[proposed.Scope] > scopeRank[existing.Scope] {
		note(ChangeScopeEscalation, "scope was widened")
	}

	if existing.Conditions.TimeWindow != nil && proposed.Conditions.TimeWindow == nil {
		note(ChangeTimeWindowRemove, "the time window restriction was removed")
	}

	if proposed.Conditions.MinBalanceAfter < existing.Conditions.MinBalanceAfter {
		note(ChangeMinBalanceLower, "minBalanceAfter was lowered")
	}

	if existing.Conditions.RequireReviewBeforeFirstPay && !proposed.Conditions.RequireReviewBeforeFirstPay {
		note(ChangeFirstPayReviewDisable, "requireReviewBeforeFirstPay was disabled")
	}

	if existing.ExpiresAt != nil && (proposed.ExpiresAt == nil || proposed.ExpiresAt.After(*existing.ExpiresAt)) {
		note(ChangeExpirationExtend, "expiresAt was extended or removed")
	}

	level := ApprovalAuto
	if len(changes) > 0 {
		level = ApprovalReview
	}
	for _, c := range changes {
		if biometricChanges[c] {
			level = ApprovalBiometric
			break
		}
	}

	return ChangeClassification{
		RequiresEscalation: len(changes) > 0,
		ApprovalLevel:      level,
		CriticalChanges:    changes,
		Reasons:            reasons,
	}
}

func raised(newVal, oldVal uint64) bool {
	return newVal > oldVal
}
