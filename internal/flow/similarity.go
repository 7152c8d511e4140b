package flow

import "strings"

// Similarity thresholds on the 0..1 scale. Two descriptions at or above
// duplicateThreshold are the same task; update/complete/delete intents resolve
// against existing tasks at resolveThreshold.
const (
	duplicateThreshold = 0.8
	resolveThreshold   = 0.5
)

// fillerWords are dropped during normalization so phrasing differences like
// "please clean the kitchen" vs "clean kitchen" do not defeat deduplication.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "my": true,
	"his": true, "her": true, "their": true, "your": true, "our": true,
	"please": true, "task": true, "should": true, "needs": true,
	"need": true, "must": true, "has": true, "have": true,
}

// normalizeDescription lowercases a task description, strips punctuation and
// filler words, and returns the remaining tokens in order.
func normalizeDescription(desc string) []string {
	lower := strings.ToLower(desc)
	var b strings.Builder
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if !fillerWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// tokensMatch reports whether two tokens name the same word, tolerating
// inflection by prefix match on stems of four or more characters.
func tokensMatch(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) >= 4 && len(b) >= 4 {
		if strings.HasPrefix(a, b) || strings.HasPrefix(b, a) {
			return true
		}
	}
	return false
}

// similarity returns a Dice coefficient over the normalized token sets of two
// descriptions. 1.0 means identical after normalization, 0.0 means disjoint.
func similarity(a, b string) float64 {
	ta := normalizeDescription(a)
	tb := normalizeDescription(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	matchedB := make([]bool, len(tb))
	matches := 0
	for _, wa := range ta {
		for j, wb := range tb {
			if matchedB[j] {
				continue
			}
			if tokensMatch(wa, wb) {
				matchedB[j] = true
				matches++
				break
			}
		}
	}
	return 2 * float64(matches) / float64(len(ta)+len(tb))
}

// bestMatch returns the index of the existing description most similar to
// desc along with its score, or -1 when candidates is empty.
func bestMatch(desc string, candidates []string) (int, float64) {
	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		if s := similarity(desc, c); best == -1 || s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best, bestScore
}
