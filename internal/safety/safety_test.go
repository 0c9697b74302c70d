package safety

import (
	"strings"
	"testing"
)

func TestValidateQuery(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  bool
	}{
		{"benign", "what should I eat for better digestion?", true},
		{"inappropriate substring", "tell me about violence in movies", false},
		{"case insensitive", "KILL my headache", false},
		{"empty", "", true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := ValidateQuery(c.query); got != c.want {
				t.Errorf("ValidateQuery(%q) = %v, want %v", c.query, got, c.want)
			}
		})
	}
}

func TestFilterResponsePassesOnTopic(t *testing.T) {
	resp := "Ayurveda suggests warm water with ginger to support digestion and balance."
	got, filtered := FilterResponse(resp, "how do I improve digestion?")
	if filtered {
		t.Fatal("on-topic response was filtered")
	}
	if got != resp {
		t.Errorf("response modified: %q", got)
	}
}

func TestFilterResponseRejectsInappropriate(t *testing.T) {
	_, filtered := FilterResponse("This weapon of a remedy will kill your cold.", "short q")
	if !filtered {
		t.Error("inappropriate response not filtered")
	}
}

func TestFilterResponseRejectsOffTopicPair(t *testing.T) {
	// One off-topic hit is tolerated, two are not.
	if _, filtered := FilterResponse("Watch a movie and relax, it helps with sleep.", "q"); filtered {
		t.Error("single off-topic hit should pass")
	}
	if _, filtered := FilterResponse("Skip the movie and check the stock market instead.", "q"); !filtered {
		t.Error("two off-topic hits should be filtered")
	}
}

func TestFilterResponseRejectsLongDriftedText(t *testing.T) {
	long := strings.Repeat("The weather today is quite pleasant and mild. ", 4)
	if len(long) <= MinLengthForHealthCheck {
		t.Fatalf("test text too short: %d", len(long))
	}
	_, filtered := FilterResponse(long, "q")
	if !filtered {
		t.Error("long response with zero health keywords should be filtered")
	}

	// The same length anchored by a single health keyword passes.
	anchored := long + " Good sleep matters."
	if _, filtered := FilterResponse(anchored, "q"); filtered {
		t.Error("health-anchored long response should pass")
	}
}

func TestFilterResponseFallbackDepth(t *testing.T) {
	shortQuery := "quick question"
	longQuery := "I have been feeling tired every morning and my digestion has been off for weeks"

	got, filtered := FilterResponse("inappropriate slur content", shortQuery)
	if !filtered || got != MediumFallback {
		t.Errorf("short query fallback = %q", got)
	}
	got, filtered = FilterResponse("inappropriate slur content", longQuery)
	if !filtered || got != DetailedFallback {
		t.Errorf("long query fallback = %q", got)
	}
}
