package policy

// ScreenRequest runs non-blocking heuristic checks over req and returns
// human-readable warnings without affecting CheckAutoApprove's verdict.
// It re-homes the teacher's ScreenTask red-flag heuristics
// (security.go) from task specifications onto execution requests: where
// the teacher flagged excessive permissions, irreversible open-ended
// autonomy, and exfiltration-shaped context sensitivity, this flags
// transfers with no destination address, transfers that name no chain,
// requests whose timestamp is older than the replay window (possible
// replay), and requests whose timestamp lies in the future. Amounts and
// allow lists are not screened here.
// Warnings are meant to feed a human review queue's urgency
// classification (see UrgencyFromWarnings), never checkAutoApprove's
// pass/fail gates.
func (e *Engine) ScreenRequest(req ExecutionRequest) []string {
	now := e.clock()
	replayWindow := e.replayWindow
	if replayWindow <= 0 {
		replayWindow = DefaultReplayWindow
	}

	var warnings []string

	if transferLikeActions[req.Action] && req.Amount > 0 && req.ToAddress == "" {
		warnings = append(warnings, "transfer request has no destination address")
	}

	if req.Chain == "" && (req.Action == ActionTransfer || req.Action == ActionSendTransaction) {
		warnings = append(warnings, "transfer request does not name a chain")
	}

	if !req.Timestamp.IsZero() && now.Sub(req.Timestamp) > replayWindow {
		warnings = append(warnings, "request timestamp is older than the replay window — possible replay")
	}

	if !req.Timestamp.IsZero() && req.Timestamp.After(now) {
		warnings = append(warnings, "request timestamp is in the future")
	}

	return warnings
}

// UrgencyFromWarnings maps ScreenRequest's output to a review urgency
// level (as the string values review.Urgency is defined over): any
// warning raises a request's queue urgency from normal to high so a
// screened request surfaces ahead of routine ones.
func UrgencyFromWarnings(warnings []string) string {
	if len(warnings) > 0 {
		return "high"
	}
	return "normal"
}
