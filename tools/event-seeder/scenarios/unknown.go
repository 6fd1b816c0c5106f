package scenarios

import "math/rand"

// UnknownType sends event types outside the allowlist, then a retry of the
// same document, which is a duplicate of the quarantined arrival.
type UnknownType struct{}

var unknownTypes = []string{"LOYALTY_ENROLL", "GIFT_CARD_ACTIVATE", "DRAWER_OPEN", "PRICE_CHECK"}

func init() {
	Register(&UnknownType{})
}

func (s *UnknownType) Name() string { return "unknown-type" }

func (s *UnknownType) Description() string {
	return "Event types outside the allowlist; first arrivals must be quarantined"
}

func (s *UnknownType) DefaultParams() map[string]interface{} {
	return map[string]interface{}{"count": 5}
}

func (s *UnknownType) Generate(cfg *Config) ([]Planned, error) {
	count := GetIntParam(cfg, "count", 5)

	out := make([]Planned, 0, count*2)
	for i := 0; i < count; i++ {
		e := NewSale(cfg, i, count)
		e.EventType = unknownTypes[rand.Intn(len(unknownTypes))]
		out = append(out,
			Planned{Event: e, Expect: ExpectQuarantined},
			Planned{Event: Clone(e), Expect: ExpectDuplicate},
		)
	}
	return out, nil
}
