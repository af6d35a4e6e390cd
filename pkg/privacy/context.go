package privacy

import (
	"sort"
	"strconv"
	"strings"
)

// buildContextString sorts segments lexicographically and joins them
// with ":" — the single canonical input to context-isolated
// derivation (spec.md §4.7).
func buildContextString(segments ...string) string {
	sorted := append([]string(nil), segments...)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}

func agentSegment(agentID string) string { return "agent:" + agentID }
func dirSegment(dir Direction) string    { return "dir:" + string(dir) }
func seqSegment(seq uint64) string       { return "seq:" + strconv.FormatUint(seq, 10) }
func txSegment(txUUID string) string     { return "tx:" + txUUID }

const (
	modeBasicSegment = "mode:basic"
	poolPreSegment   = "pool:pre"
)
