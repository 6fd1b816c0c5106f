package scenarios

import "github.com/brianvoe/gofakeit/v6"

// ConflictingResend reuses an event id with a changed amount. The first
// arrival is applied and the changed resend is quarantined. Retrying the
// changed body again is a duplicate of the quarantined arrival.
type ConflictingResend struct{}

func init() {
	Register(&ConflictingResend{})
}

func (s *ConflictingResend) Name() string { return "conflicting-resend" }

func (s *ConflictingResend) Description() string {
	return "Same event_id resent with a different amount; the first resend must be quarantined"
}

func (s *ConflictingResend) DefaultParams() map[string]interface{} {
	return map[string]interface{}{"count": 5}
}

func (s *ConflictingResend) Generate(cfg *Config) ([]Planned, error) {
	count := GetIntParam(cfg, "count", 5)

	out := make([]Planned, 0, count*3)
	for i := 0; i < count; i++ {
		e := NewSale(cfg, i, count)
		e.EventType = "SALE"

		changed := Clone(e)
		amount, _ := changed.Payload["amount"].(float64)
		changed.Payload["amount"] = amount + gofakeit.Price(0.01, 5)

		out = append(out,
			Planned{Event: e, Expect: ExpectProcessed},
			Planned{Event: changed, Expect: ExpectQuarantined},
			Planned{Event: Clone(changed), Expect: ExpectDuplicate},
		)
	}
	return out, nil
}
