// Package scenarios generates point-of-sale traffic shapes that exercise the
// ingest decision engine: retries, conflicting resends and unknown types.
package scenarios

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
)

// Event is one document for POST /v1/events.
type Event struct {
	TenantID      string                 `json:"tenant_id"`
	StoreID       string                 `json:"store_id"`
	SourceSystem  string                 `json:"source_system"`
	SchemaVersion string                 `json:"schema_version"`
	OccurredAt    time.Time              `json:"occurred_at"`
	EventID       string                 `json:"event_id"`
	SourceEventID *string                `json:"source_event_id,omitempty"`
	EventType     string                 `json:"event_type"`
	TxnID         string                 `json:"txn_id"`
	Payload       map[string]interface{} `json:"payload"`
}

// Expected is the outcome the seeder predicts for an event. Used to report
// mismatches against what the service answered.
type Expected string

const (
	ExpectProcessed   Expected = "processed"
	ExpectDuplicate   Expected = "duplicate"
	ExpectQuarantined Expected = "quarantined"
)

// Planned pairs an event with its predicted outcome.
type Planned struct {
	Event  Event
	Expect Expected
}

// Config holds what every scenario needs.
type Config struct {
	Now        time.Time
	TimeSpread time.Duration
	TenantID   string
	Stores     []string

	// Scenario-specific knobs, e.g. "count" or "resends".
	Params map[string]interface{}
}

// Pattern is a traffic shape.
type Pattern interface {
	Name() string
	Description() string
	Generate(cfg *Config) ([]Planned, error)
	DefaultParams() map[string]interface{}
}

var Registry = make(map[string]Pattern)

func Register(p Pattern) {
	Registry[p.Name()] = p
}

func Get(name string) (Pattern, bool) {
	p, ok := Registry[name]
	return p, ok
}

// List returns the registered scenario names, sorted.
func List() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetIntParam extracts an integer parameter, parsing from string if necessary.
func GetIntParam(cfg *Config, key string, defaultValue int) int {
	if cfg.Params == nil {
		return defaultValue
	}

	switch v := cfg.Params[key].(type) {
	case int:
		return v
	case string:
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// SaleTypes are the allowlisted types the generator draws from.
var SaleTypes = []string{"SALE", "SALE", "SALE", "REFUND", "RETURN", "VOID", "PAYMENT"}

// NewSale builds a fresh, valid event with a new idempotency key.
func NewSale(cfg *Config, index, total int) Event {
	store := "store_001"
	if len(cfg.Stores) > 0 {
		store = cfg.Stores[rand.Intn(len(cfg.Stores))]
	}
	eventType := SaleTypes[rand.Intn(len(SaleTypes))]

	var sourceID *string
	if rand.Intn(2) == 0 {
		s := "pos-" + gofakeit.DigitN(8)
		sourceID = &s
	}

	return Event{
		TenantID:      cfg.TenantID,
		StoreID:       store,
		SourceSystem:  "pos",
		SchemaVersion: "1",
		OccurredAt:    jitteredTime(cfg.Now, cfg.TimeSpread, index, total).UTC().Truncate(time.Millisecond),
		EventID:       "evt-" + gofakeit.UUID(),
		SourceEventID: sourceID,
		EventType:     eventType,
		TxnID:         fmt.Sprintf("txn-%s", gofakeit.LetterN(10)),
		Payload:       salePayload(),
	}
}

func salePayload() map[string]interface{} {
	lines := make([]map[string]interface{}, 0, 3)
	total := 0.0
	for i := 0; i < rand.Intn(3)+1; i++ {
		qty := rand.Intn(4) + 1
		price := gofakeit.Price(1, 80)
		total += float64(qty) * price
		lines = append(lines, map[string]interface{}{
			"sku":        gofakeit.DigitN(6),
			"name":       gofakeit.Word(),
			"quantity":   qty,
			"unit_price": price,
		})
	}
	return map[string]interface{}{
		"amount":   float64(int(total*100)) / 100,
		"currency": gofakeit.RandomString([]string{"USD", "EUR", "GBP"}),
		"cashier":  gofakeit.FirstName(),
		"tender":   gofakeit.RandomString([]string{"cash", "card", "gift_card"}),
		"lines":    lines,
	}
}

// Clone deep-copies e so scenarios can mutate a resend without touching the
// original.
func Clone(e Event) Event {
	data, _ := json.Marshal(e.Payload)
	var payload map[string]interface{}
	_ = json.Unmarshal(data, &payload)
	out := e
	out.Payload = payload
	if e.SourceEventID != nil {
		s := *e.SourceEventID
		out.SourceEventID = &s
	}
	return out
}

// jitteredTime spreads total events evenly over the window ending at now,
// with up to 40% jitter per slot.
func jitteredTime(now time.Time, spread time.Duration, index, total int) time.Time {
	if spread == 0 || total == 0 {
		return now
	}

	base := float64(spread) / float64(total)
	offset := time.Duration(float64(index)*base + (rand.Float64()*2-1)*base*0.4)
	if offset < 0 {
		offset = 0
	}
	if offset > spread {
		offset = spread
	}
	return now.Add(-(spread - offset))
}
