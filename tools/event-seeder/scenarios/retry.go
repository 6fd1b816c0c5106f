package scenarios

import "math/rand"

// DuplicateRetry is a register that resends each sale identically, as a POS
// does when its acknowledgement times out.
type DuplicateRetry struct{}

func init() {
	Register(&DuplicateRetry{})
}

func (s *DuplicateRetry) Name() string { return "duplicate-retry" }

func (s *DuplicateRetry) Description() string {
	return "Each sale is resent unchanged 1-N times; every resend must be a duplicate"
}

func (s *DuplicateRetry) DefaultParams() map[string]interface{} {
	return map[string]interface{}{
		"count":   20,
		"resends": 3,
	}
}

func (s *DuplicateRetry) Generate(cfg *Config) ([]Planned, error) {
	count := GetIntParam(cfg, "count", 20)
	resends := GetIntParam(cfg, "resends", 3)

	out := make([]Planned, 0, count*(resends+1))
	for i := 0; i < count; i++ {
		e := NewSale(cfg, i, count)
		out = append(out, Planned{Event: e, Expect: ExpectProcessed})
		for r := 0; r < rand.Intn(resends)+1; r++ {
			out = append(out, Planned{Event: Clone(e), Expect: ExpectDuplicate})
		}
	}
	return out, nil
}
