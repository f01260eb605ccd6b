package extractor

import (
	"regexp"

	"github.com/hrkg/platform/engine/domain"
)

// classKeywords are scored, case-insensitive keyword sets per document
// class (§4.5's "tiny regex classifier").
var classKeywords = map[domain.DocumentClass][]*regexp.Regexp{
	domain.ClassPatent: {
		regexp.MustCompile(`(?i)\bpatent\b`),
		regexp.MustCompile(`(?i)\bclaims?\b`),
		regexp.MustCompile(`(?i)\bassignee\b`),
		regexp.MustCompile(`(?i)\bfiled\b`),
		regexp.MustCompile(`(?i)\bu\.?s\.?\s*patent\s*(no\.?|number)\b`),
	},
	domain.ClassResearch: {
		regexp.MustCompile(`(?i)\babstract\b`),
		regexp.MustCompile(`(?i)\bjournal\b`),
		regexp.MustCompile(`(?i)\bmethodology\b`),
		regexp.MustCompile(`(?i)\bpeer.review(ed)?\b`),
		regexp.MustCompile(`(?i)\bcitations?\b`),
	},
	domain.ClassProject: {
		regexp.MustCompile(`(?i)\bproject\b`),
		regexp.MustCompile(`(?i)\bconstruction\b`),
		regexp.MustCompile(`(?i)\bbudget\b`),
		regexp.MustCompile(`(?i)\bcontractor\b`),
		regexp.MustCompile(`(?i)\bbroke ground\b`),
	},
}

// DetectDocumentClass scores chunk against each class's keyword set and
// returns the highest-scoring class, defaulting to "other" on a tie at
// zero (§4.5).
func DetectDocumentClass(chunk string) domain.DocumentClass {
	best := domain.ClassOther
	bestScore := 0
	for class, patterns := range classKeywords {
		score := 0
		for _, p := range patterns {
			if p.MatchString(chunk) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = class
		}
	}
	return best
}
