// Package safety applies keyword screening to assistant traffic. Queries are
// screened before the model is called; responses are screened before they
// reach WhatsApp. The lists are plain data so reviews happen on the words,
// not on code.
package safety

import "strings"

// InappropriateKeywords block a query or response outright on any substring hit.
var InappropriateKeywords = []string{
	"porn", "sex", "nude", "explicit", "adult content",
	"violence", "weapon", "kill", "murder", "death",
	"drug", "cocaine", "heroin", "meth",
	"racist", "hate speech", "slur",
	"suicide", "self-harm",
}

// OffTopicKeywords flag content outside the wellness domain. Two or more
// distinct hits reject a response.
var OffTopicKeywords = []string{
	"movie", "film", "celebrity", "politics", "sports",
	"game", "gaming", "video game",
	"cryptocurrency", "bitcoin", "stock market",
}

// HealthKeywords anchor a response to the domain. A long response with zero
// hits is treated as having drifted off topic.
var HealthKeywords = []string{
	"ayurveda", "ayurvedic", "dosha", "vata", "pitta", "kapha",
	"health", "wellness", "medicine", "herb", "treatment",
	"digestion", "sleep", "stress", "immunity", "diet",
	"yoga", "meditation", "balance", "natural", "holistic",
}

// Thresholds for response screening.
const (
	// MaxOffTopicKeywords is the number of distinct off-topic hits tolerated.
	MaxOffTopicKeywords = 1
	// MinLengthForHealthCheck is the response length above which at least one
	// health keyword is required.
	MinLengthForHealthCheck = 100
	// DetailedFallbackQueryLength is the query length above which the longer
	// fallback is used.
	DetailedFallbackQueryLength = 50
)

// QueryRejectedMessage is sent when the query itself is inappropriate; the
// model is never called in that case.
const QueryRejectedMessage = "I'm here to help with Ayurvedic wellness, health guidance, and your orders. Let's keep our conversation focused on that. How can I support your wellness journey?"

// Fallback responses used when a generated response fails screening. Which
// one is sent depends on how involved the original question was.
const (
	MediumFallback = "That's a thoughtful question. From an Ayurvedic view, balance is the foundation of wellbeing. Could you tell me a little more about what you'd like help with, so I can give you guidance suited to you?"

	DetailedFallback = "Thank you for sharing that with me. Ayurveda looks at wellbeing as a balance of body, mind, and daily rhythm, and the right guidance depends on your constitution and routine. Could you tell me more about your daily habits, diet, or the specific concern on your mind? That will help me give you advice that actually fits your situation."
)

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func countHits(text string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			n++
		}
	}
	return n
}

// ValidateQuery reports whether a user query may be sent to the model.
func ValidateQuery(query string) bool {
	return !containsAny(strings.ToLower(query), InappropriateKeywords)
}

// FilterResponse screens a generated response. It returns the text to send
// and whether the original was replaced by a fallback. The fallback length is
// chosen from the original query, not the response.
func FilterResponse(response, query string) (string, bool) {
	lower := strings.ToLower(response)
	rejected := containsAny(lower, InappropriateKeywords) ||
		countHits(lower, OffTopicKeywords) > MaxOffTopicKeywords ||
		(len(response) > MinLengthForHealthCheck && countHits(lower, HealthKeywords) == 0)
	if !rejected {
		return response, false
	}
	if len(query) > DetailedFallbackQueryLength {
		return DetailedFallback, true
	}
	return MediumFallback, true
}
