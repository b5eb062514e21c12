package events

import (
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/retail-reco/internal/domain"
)

var (
	vld     *validator.Validate
	vldOnce sync.Once
)

// dataRules maps each event type to the validation rules applied to its data
// map. Types absent from the table accept any payload.
var dataRules = map[domain.EventType]map[string]any{
	domain.EventProductView:        {"product_id": "required"},
	domain.EventProductSearch:      {"query": "required"},
	domain.EventAddToCart:          {"product_id": "required"},
	domain.EventPurchase:           {"product_id": "required"},
	domain.EventConversationIntent: {"intent": "required"},
}

// validateData checks an event's data map against the per-type schema.
func validateData(evType domain.EventType, data map[string]any) bool {
	rules, ok := dataRules[evType]
	if !ok {
		return true
	}
	vldOnce.Do(func() { vld = validator.New() })
	if data == nil {
		data = map[string]any{}
	}
	errs := vld.ValidateMap(data, rules)
	return len(errs) == 0
}
