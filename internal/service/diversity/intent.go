// Package diversity implements the diversity-aware personalization cache.
//
// Keys are derived from user identity, semantic intent, conversational turn
// and the set of products already shown, so a cache hit can never return a
// response that breaks the diversification the recommender just upheld.
package diversity

import (
	"strings"

	"github.com/fairyhunter13/retail-reco/internal/config"
	"github.com/fairyhunter13/retail-reco/pkg/textx"
)

// Intent tags with a fixed spelling. Category intents are "initial_<category>".
const (
	IntentFollowUpCategory = "follow_up_category"
	IntentFollowUpPrice    = "follow_up_price"
	IntentFollowUpBrand    = "follow_up_brand"
	IntentFollowUpGeneral  = "follow_up_general"
	IntentGeneralRec       = "initial_general_recommendation"
	IntentInformation      = "information_request"
	IntentSearch           = "search_query"
	IntentGeneral          = "general_query"
)

// Classifier extracts a semantic intent tag from a free-text query. The token
// lists come from the configured vocabulary; live catalog categories extend
// the category vocabulary at runtime.
type Classifier struct {
	vocab *config.Vocabulary
	// liveCategories supplies the loaded catalog's category names; nil or an
	// empty result falls back to the vocabulary's fixed category map.
	liveCategories func() []string
}

// NewClassifier builds a classifier over vocab. liveCategories may be nil.
func NewClassifier(vocab *config.Vocabulary, liveCategories func() []string) *Classifier {
	if vocab == nil {
		vocab = config.DefaultVocabulary()
	}
	return &Classifier{vocab: vocab, liveCategories: liveCategories}
}

// Intent classifies query. Precedence: follow-up indicators, category
// keywords, recommendation tokens, information tokens (deliberately before
// search tokens), search tokens, then the joined-words fallback.
func (c *Classifier) Intent(query string) string {
	tokens := textx.Tokenize(query)
	if len(tokens) == 0 {
		return IntentGeneral
	}

	if textx.HasAny(tokens, c.vocab.FollowUpTokens...) {
		switch {
		case textx.HasAny(tokens, c.vocab.CategoryDim...):
			return IntentFollowUpCategory
		case textx.HasAny(tokens, c.vocab.PriceDim...):
			return IntentFollowUpPrice
		case textx.HasAny(tokens, c.vocab.BrandDim...):
			return IntentFollowUpBrand
		default:
			return IntentFollowUpGeneral
		}
	}

	if cat := c.matchCategory(tokens); cat != "" {
		return "initial_" + cat
	}

	if textx.HasAny(tokens, c.vocab.RecommendTokens...) {
		return IntentGeneralRec
	}
	if textx.HasAny(tokens, c.vocab.InfoTokens...) {
		return IntentInformation
	}
	if textx.HasAny(tokens, c.vocab.SearchTokens...) {
		return IntentSearch
	}

	return fallbackIntent(tokens)
}

// matchCategory checks the live catalog categories first, then the fixed
// vocabulary map.
func (c *Classifier) matchCategory(tokens []string) string {
	if c.liveCategories != nil {
		for _, cat := range c.liveCategories() {
			if textx.HasAny(tokens, strings.ToLower(cat)) {
				return strings.ToLower(cat)
			}
		}
	}
	for cat, words := range c.vocab.CategoryTokens {
		if textx.HasAny(tokens, words...) {
			return cat
		}
	}
	return ""
}

// fallbackIntent joins the first up-to-4 tokens longer than 3 characters with
// underscores; a query with no such tokens is a general query.
func fallbackIntent(tokens []string) string {
	var kept []string
	for _, t := range tokens {
		if len(t) > 3 {
			kept = append(kept, t)
			if len(kept) == 4 {
				break
			}
		}
	}
	if len(kept) == 0 {
		return IntentGeneral
	}
	return strings.Join(kept, "_")
}
