package exam

import (
	"fmt"
	"sort"
	"strings"
	"testing"
)

func questionIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("q-%02d", i+1)
	}
	return out
}

func TestShuffleKeepsAuthoringOrderWhenDisabled(t *testing.T) {
	ids := questionIDs(8)
	got := Shuffle("attempt-1", "exam-1", ids, false)
	if strings.Join(got, ",") != strings.Join(ids, ",") {
		t.Fatalf("expected authoring order, got %v", got)
	}
	got[0] = "mutated"
	if ids[0] != "q-01" {
		t.Fatalf("shuffle must not alias the input slice")
	}
}

func TestShuffleStableForSameAttempt(t *testing.T) {
	ids := questionIDs(20)
	first := Shuffle("attempt-1", "exam-1", ids, true)
	for i := 0; i < 5; i++ {
		again := Shuffle("attempt-1", "exam-1", ids, true)
		if strings.Join(first, ",") != strings.Join(again, ",") {
			t.Fatalf("expected stable order, got %v then %v", first, again)
		}
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	ids := questionIDs(20)
	got := Shuffle("attempt-2", "exam-1", ids, true)
	if len(got) != len(ids) {
		t.Fatalf("length mismatch got=%d want=%d", len(got), len(ids))
	}
	sorted := append([]string(nil), got...)
	sort.Strings(sorted)
	if strings.Join(sorted, ",") != strings.Join(ids, ",") {
		t.Fatalf("expected a permutation of the input, got %v", got)
	}
}

func TestShuffleDiffersAcrossAttempts(t *testing.T) {
	ids := questionIDs(20)
	base := strings.Join(Shuffle("attempt-1", "exam-1", ids, true), ",")
	distinct := 0
	for i := 2; i <= 10; i++ {
		other := strings.Join(Shuffle(fmt.Sprintf("attempt-%d", i), "exam-1", ids, true), ",")
		if other != base {
			distinct++
		}
	}
	if distinct == 0 {
		t.Fatalf("expected different attempts to produce different orders")
	}
}

func TestShuffleSmallInputs(t *testing.T) {
	if got := Shuffle("a", "e", nil, true); len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	if got := Shuffle("a", "e", []string{"only"}, true); len(got) != 1 || got[0] != "only" {
		t.Fatalf("expected single element, got %v", got)
	}
}
