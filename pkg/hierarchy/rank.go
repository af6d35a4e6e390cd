package hierarchy

import "sort"

// RankedCandidate pairs a candidate agent with its computed escalation
// score: how well-suited it is to receive a decision escalated by the
// requesting agent, weighing both its trust score and its proximity in
// the hierarchy to that agent.
type RankedCandidate struct {
	AgentID     string  `json:"agentId"`
	Score       float64 `json:"score"`
	TrustScore  float64 `json:"trustScore"`
	ProximityScore float64 `json:"proximityScore"`
}

// RankEscalationCandidates scores and orders candidates (best first) for
// handling an escalation raised from requester. Scoring
// weighs normalized trust against hierarchy proximity — a closer
// ancestor is preferred over a more distant one at comparable trust —
// re-homing the teacher's multi-objective bid ranking (optimizer.go
// RankBids) onto escalation routing instead of task bidding.
func (t *Tree) RankEscalationCandidates(requester string, candidates []string, trust map[string]float64) []RankedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	const trustWeight = 0.6
	const proximityWeight = 0.4

	minTrust, maxTrust := 1.0, 0.0
	for _, c := range candidates {
		score := trust[c]
		if score < minTrust {
			minTrust = score
		}
		if score > maxTrust {
			maxTrust = score
		}
	}

	chain := t.EscalationChain(requester)
	depthOf := make(map[string]int, len(chain))
	for i, id := range chain {
		depthOf[id] = i
	}
	maxDepth := len(chain)

	out := make([]RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		trustScore := 1.0
		if maxTrust > minTrust {
			trustScore = (trust[c] - minTrust) / (maxTrust - minTrust)
		}

		proximity := 0.0
		if d, onChain := depthOf[c]; onChain && maxDepth > 1 {
			proximity = 1.0 - float64(d)/float64(maxDepth-1)
		}

		out = append(out, RankedCandidate{
			AgentID:        c,
			TrustScore:     trustScore,
			ProximityScore: proximity,
			Score:          trustWeight*trustScore + proximityWeight*proximity,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
