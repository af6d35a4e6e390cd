package privacy

import "testing"

func TestBuildContextString_SortsSegmentsLexicographically(t *testing.T) {
	got := buildContextString(txSegment("u1"), agentSegment("a1"), dirSegment(DirectionInbound), seqSegment(3))
	want := "agent:a1:dir:inbound:seq:3:tx:u1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
