package integrate

import (
	"math"
	"strings"
)

// Scorer computes a similarity score in [0,1] between two texts. The
// comparison strategy is pluggable so an embedding-backed scorer can
// replace the lexical default without touching integration control flow.
type Scorer interface {
	Similarity(a, b string) float64
}

// LexicalScorer scores cosine similarity over term-frequency vectors.
type LexicalScorer struct{}

// Similarity returns the cosine of the two texts' term-frequency vectors.
func (LexicalScorer) Similarity(a, b string) float64 {
	va := termFreq(a)
	vb := termFreq(b)
	if len(va) == 0 || len(vb) == 0 {
		return 0
	}

	var dot, na, nb float64
	for term, fa := range va {
		na += fa * fa
		if fb, ok := vb[term]; ok {
			dot += fa * fb
		}
	}
	for _, fb := range vb {
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func termFreq(text string) map[string]float64 {
	freq := make(map[string]float64)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" {
			continue
		}
		freq[word]++
	}
	return freq
}

// FixedScorer always returns the same score. Test hook.
type FixedScorer struct {
	Score float64
}

// Similarity returns the fixed score.
func (s FixedScorer) Similarity(a, b string) float64 {
	return s.Score
}
