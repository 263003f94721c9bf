package clarifier

import (
	"strings"
	"unicode"
)

// Policy is the product rule set for scope checks and question counts. It is
// loaded from configuration and can be swapped without touching the protocol.
type Policy struct {
	OutOfScopeKeywords     []string `mapstructure:"out_of_scope_keywords"`
	BroadKeywords          []string `mapstructure:"broad_keywords"`
	BroadMinQuestions      int      `mapstructure:"broad_min_questions"`
	NarrowMinQuestions     int      `mapstructure:"narrow_min_questions"`
	MaxQuestions           int      `mapstructure:"max_questions"`
	FallbackQuestions      []string `mapstructure:"fallback_questions"`
	OutOfScopeCompleteness float64  `mapstructure:"out_of_scope_completeness"`
	OutOfScopeNotice       string   `mapstructure:"out_of_scope_notice"`
}

func DefaultPolicy() Policy {
	return Policy{
		OutOfScopeKeywords: []string{
			"everything", "anything", "all drugs", "all medications", "random", "test", "hello", "hi",
			"fuck", "shit", "damn", "hell", "ass", "bitch", "sex", "porn", "nsfw",
		},
		BroadKeywords: []string{
			"everything", "anything", "all drugs", "all medications", "drugs", "medicine",
			"oncology", "cancer", "therapeutics", "therapy", "treatment", "pharmaceutical",
			"biotech", "immunotherapy", "targeted therapy",
		},
		BroadMinQuestions:      5,
		NarrowMinQuestions:     3,
		MaxQuestions:           10,
		OutOfScopeCompleteness: 0.05,
		OutOfScopeNotice: "Please provide a pharmaceutical or biotech-related query, for example " +
			"'EGFR inhibitors lung cancer', 'checkpoint inhibitors' or 'CAR-T therapies'.",
	}
}

// withDefaults fills zero numeric fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BroadMinQuestions <= 0 {
		p.BroadMinQuestions = d.BroadMinQuestions
	}
	if p.NarrowMinQuestions <= 0 {
		p.NarrowMinQuestions = d.NarrowMinQuestions
	}
	if p.MaxQuestions <= 0 {
		p.MaxQuestions = d.MaxQuestions
	}
	if p.OutOfScopeCompleteness <= 0 {
		p.OutOfScopeCompleteness = d.OutOfScopeCompleteness
	}
	if p.OutOfScopeNotice == "" {
		p.OutOfScopeNotice = d.OutOfScopeNotice
	}
	return p
}

// OutOfScope returns the out-of-scope keywords found in the query.
func (p Policy) OutOfScope(query string) []string {
	return matchKeywords(tokenize(query), p.OutOfScopeKeywords)
}

func (p Policy) IsBroad(query string) bool {
	return len(matchKeywords(tokenize(query), p.BroadKeywords)) > 0
}

// MinQuestions is the number of questions a query of this breadth should get,
// never more than limit when limit is positive.
func (p Policy) MinQuestions(broad bool, limit int) int {
	var n int
	if broad {
		n = clamp(orDefault(limit, 8), p.BroadMinQuestions, p.MaxQuestions)
	} else {
		n = clamp(orDefault(limit, 4), p.NarrowMinQuestions, 5)
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// matchKeywords matches whole words, and multi-word keywords as consecutive
// tokens, so "hi" does not match "this".
func matchKeywords(tokens []string, keywords []string) []string {
	var found []string
	for _, kw := range keywords {
		phrase := tokenize(kw)
		if len(phrase) == 0 {
			continue
		}
		if containsPhrase(tokens, phrase) {
			found = append(found, kw)
		}
	}
	return found
}

func containsPhrase(tokens, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		match := true
		for j, w := range phrase {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
