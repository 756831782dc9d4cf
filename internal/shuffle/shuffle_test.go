package shuffle

import (
	"fmt"
	"strings"
	"testing"

	"exam-session-engine/internal/domain"
)

var sampleOptions = []string{"Delhi", "Mumbai", "Kolkata", "Chennai", "Pune", "Jaipur"}

func TestOptionsDeterministic(t *testing.T) {
	seed := Seed("participant-1", "q1")
	first := Options(sampleOptions, seed)
	second := Options(sampleOptions, seed)
	if strings.Join(first.Options, ",") != strings.Join(second.Options, ",") {
		t.Fatalf("expected identical orderings, got %v and %v", first.Options, second.Options)
	}
}

func TestOptionsIsPermutation(t *testing.T) {
	res := Options(sampleOptions, "any-seed")
	if len(res.Options) != len(sampleOptions) {
		t.Fatalf("expected %d options, got %d", len(sampleOptions), len(res.Options))
	}
	seen := make(map[int]bool)
	for i, orig := range res.Order {
		if seen[orig] {
			t.Fatalf("index %d used twice in %v", orig, res.Order)
		}
		seen[orig] = true
		if res.Options[i] != sampleOptions[orig] {
			t.Fatalf("order and options disagree at %d", i)
		}
	}
	if sampleOptions[0] != "Delhi" {
		t.Fatalf("input must not be modified")
	}
}

func TestOptionsVaryAcrossSeeds(t *testing.T) {
	orderings := make(map[string]bool)
	for i := 0; i < 20; i++ {
		res := Options(sampleOptions, Seed(fmt.Sprintf("participant-%d", i), "q1"))
		orderings[strings.Join(res.Options, ",")] = true
	}
	if len(orderings) < 2 {
		t.Fatalf("expected different participants to see different orders, got %d distinct", len(orderings))
	}
}

func TestCorrectIndexRemap(t *testing.T) {
	for i := 0; i < 50; i++ {
		for correct := range sampleOptions {
			res := Options(sampleOptions, Seed(fmt.Sprintf("p%d", i), "q"))
			idx := res.CorrectIndex(correct)
			if idx < 0 || res.Options[idx] != sampleOptions[correct] {
				t.Fatalf("remapped index %d does not point at %q in %v", idx, sampleOptions[correct], res.Options)
			}
			if Locate(res.Options, sampleOptions[correct]) != idx {
				t.Fatalf("locate disagrees with permutation remap")
			}
		}
	}
	if Options(sampleOptions, "x").CorrectIndex(len(sampleOptions)) != -1 {
		t.Fatalf("expected -1 for out of range original")
	}
}

func TestQuestionShuffle(t *testing.T) {
	q := domain.Question{ID: "q7", Options: []string{"3", "4", "5", "6"}, CorrectIndex: 1}
	got := Question(q, "u1")
	if got.Options[got.CorrectIndex] != "4" {
		t.Fatalf("expected correct option to stay %q, got %q", "4", got.Options[got.CorrectIndex])
	}
	if q.Options[0] != "3" {
		t.Fatalf("original question must not be modified")
	}

	bad := Question(domain.Question{ID: "q8", Options: []string{"x", "y"}, CorrectIndex: 5}, "u1")
	if bad.HasValidAnswer() {
		t.Fatalf("malformed answer must stay malformed")
	}
}
