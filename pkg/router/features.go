package router

import (
	"strings"
	"unicode"
)

// Features are the signals extracted from a query that drive routing.
type Features struct {
	TokenEstimate     int     `json:"token_estimate"`
	EntityCount       int     `json:"entity_count"`
	ReasoningSteps    int     `json:"reasoning_steps"`
	ContextDependency float64 `json:"context_dependency"`
	TimeSensitive     bool    `json:"time_sensitive"`
	Creative          bool    `json:"creative"`
	Factual           bool    `json:"factual"`
	Social            bool    `json:"social"`
}

var socialPhrases = []string{
	"hi", "hello", "hey", "how are you", "good morning", "good evening",
	"good night", "thanks", "thank you", "bye", "goodbye", "what's up",
	"nice to meet you",
}

var factualPrefixes = []string{
	"what is", "what's", "who is", "who was", "when did", "when was",
	"where is", "how many", "how much", "how tall", "how far",
	"what year", "capital of", "define",
}

var reasoningMarkers = []string{
	"step by step", "analyze", "compare", "derive", "prove", "explain why",
	"trade-off", "tradeoff", "pros and cons", "design", "plan", "walk me through",
	"break down", "reason about", "think through",
}

var creativeMarkers = []string{
	"write a story", "write a poem", "poem", "story about", "imagine",
	"brainstorm", "creative", "compose", "invent", "fiction", "lyrics",
	"metaphor",
}

var contextMarkers = []string{
	"it", "that", "this", "those", "they", "them", "he", "she",
	"the above", "previous", "earlier", "before", "again", "as i said",
	"like you mentioned", "continue", "more",
}

var timeMarkers = []string{
	"now", "today", "tonight", "latest", "current", "currently",
	"right now", "this week", "breaking",
}

// ExtractFeatures computes routing features for a query and its retrieved
// context. Pure over its inputs.
func ExtractFeatures(text string, contextRefs []string) Features {
	lower := strings.ToLower(strings.TrimSpace(text))

	f := Features{
		TokenEstimate:  estimateTokens(text),
		EntityCount:    countEntities(text),
		TimeSensitive:  containsAny(lower, timeMarkers),
		Creative:       containsAny(lower, creativeMarkers),
		Social:         isSocial(lower),
		ReasoningSteps: countReasoningSteps(lower),
	}

	for _, prefix := range factualPrefixes {
		if strings.HasPrefix(lower, prefix) {
			f.Factual = true
			break
		}
	}

	f.ContextDependency = contextDependency(lower, contextRefs)
	return f
}

// estimateTokens approximates token count as one token per four
// characters, floored at the word count.
func estimateTokens(text string) int {
	chars := len(strings.TrimSpace(text))
	if chars == 0 {
		return 0
	}
	est := (chars + 3) / 4
	if words := len(strings.Fields(text)); est < words {
		est = words
	}
	return est
}

// countEntities counts capitalized words past sentence starts plus
// standalone numbers, a cheap named-entity proxy.
func countEntities(text string) int {
	words := strings.Fields(text)
	count := 0
	for i, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			continue
		}
		runes := []rune(trimmed)
		if unicode.IsDigit(runes[0]) {
			count++
			continue
		}
		if i == 0 || endsSentence(words[i-1]) {
			continue
		}
		if unicode.IsUpper(runes[0]) {
			count++
		}
	}
	return count
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") || strings.HasSuffix(word, "?") || strings.HasSuffix(word, "!")
}

func countReasoningSteps(lower string) int {
	steps := 0
	for _, marker := range reasoningMarkers {
		if strings.Contains(lower, marker) {
			steps++
		}
	}
	// Chained clauses imply multi-step answers.
	for _, conj := range []string{" and then ", " therefore ", " because ", "; then "} {
		steps += strings.Count(lower, conj)
	}
	return steps
}

func isSocial(lower string) bool {
	for _, phrase := range socialPhrases {
		if lower == phrase || strings.HasPrefix(lower, phrase+" ") ||
			strings.HasPrefix(lower, phrase+",") || strings.HasPrefix(lower, phrase+"!") ||
			strings.Contains(lower, phrase+"?") {
			return true
		}
	}
	return false
}

// contextDependency scores 0..1 how much the query leans on prior turns.
func contextDependency(lower string, contextRefs []string) float64 {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:")
		for _, marker := range contextMarkers {
			if w == marker {
				hits++
				break
			}
		}
	}
	score := float64(hits) / float64(len(words)) * 3
	if len(contextRefs) > 0 {
		score += 0.3
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(lower string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
