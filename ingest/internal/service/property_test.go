package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/telhawk-systems/ledgersafe/ingest/internal/models"
)

// keyModel is the reference state machine for one idempotency key.
type keyModel struct {
	status  models.LedgerStatus
	applied int
	last    int
	trigger int
	open    string
}

type op struct {
	kind    int // 0-2 ingest, 3 resolve no replay, 4 resolve and replay
	key     string
	content int // 0,1 SALE with different amounts; 2 MAGIC_EVENT
}

func decodeOp(n int) op {
	return op{kind: n % 5, key: fmt.Sprintf("evt-%d", (n/5)%3), content: (n / 15) % 3}
}

func contentEvent(key string, content int) *models.IngestRequest {
	if content == 2 {
		return saleEvent(key, "MAGIC_EVENT", `{"amount":0}`)
	}
	return saleEvent(key, "SALE", fmt.Sprintf(`{"amount":%d}`, content+1))
}

// runModel applies ops to both the engine and the model and reports the
// first divergence.
func runModel(t *testing.T, ops []int) error {
	f := newFixture(t)
	ctx := context.Background()
	keys := map[string]*keyModel{}
	ingests := 0

	for i, n := range ops {
		o := decodeOp(n)
		m := keys[o.key]

		switch o.kind {
		case 0, 1, 2:
			ingests++
			res, err := f.svc.Ingest(ctx, contentEvent(o.key, o.content))
			if err != nil {
				return fmt.Errorf("step %d: ingest: %v", i, err)
			}
			want := expectIngest(&m, o.content)
			keys[o.key] = m
			if res.Outcome != want {
				return fmt.Errorf("step %d: %s content %d: got %s want %s", i, o.key, o.content, res.Outcome, want)
			}
			if res.Outcome == models.OutcomeQuarantined && m.open == "" {
				m.open = *res.ExceptionID
			}
			if m.open != "" && res.ExceptionID != nil && *res.ExceptionID != m.open {
				return fmt.Errorf("step %d: %s references %s, open is %s", i, o.key, *res.ExceptionID, m.open)
			}

		case 3, 4:
			if m == nil || m.open == "" {
				continue
			}
			action := "resolve_no_replay"
			if o.kind == 4 {
				action = "resolve_and_replay"
			}
			_, err := f.svc.Resolve(ctx, resolveReq(m.open, action))
			switch {
			case o.kind == 3:
				if err != nil {
					return fmt.Errorf("step %d: resolve: %v", i, err)
				}
				m.status, m.open = models.LedgerIgnored, ""
			case m.trigger == 2:
				if !errors.Is(err, ErrValidationFailed) {
					return fmt.Errorf("step %d: replay of unknown type: got %v", i, err)
				}
			default:
				if err != nil {
					return fmt.Errorf("step %d: replay: %v", i, err)
				}
				m.status, m.open, m.applied = models.LedgerProcessed, "", m.trigger
			}
		}
	}

	hc, err := f.store.HealthCounters(ctx)
	if err != nil {
		return err
	}
	if hc.RawEventCount != int64(ingests) {
		return fmt.Errorf("raw events: got %d want %d", hc.RawEventCount, ingests)
	}

	var open int64
	for key, m := range keys {
		st, err := f.store.GetLedger(ctx, testTenant, key)
		if err != nil {
			return fmt.Errorf("%s: %v", key, err)
		}
		if st.Status != m.status {
			return fmt.Errorf("%s: status %s want %s", key, st.Status, m.status)
		}
		if m.open != "" {
			open++
		}
	}
	if hc.OpenExceptionCount != open {
		return fmt.Errorf("open exceptions: got %d want %d", hc.OpenExceptionCount, open)
	}

	entries, err := f.store.ListAudit(ctx, models.AuditFilter{Limit: 10000})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !f.recorder.Verify(e) {
			return fmt.Errorf("audit %s does not verify", e.AuditID)
		}
	}
	return nil
}

// expectIngest advances the model for one arrival and returns the outcome
// the engine must report.
func expectIngest(mp **keyModel, content int) models.Outcome {
	m := *mp
	if m == nil {
		m = &keyModel{last: content}
		*mp = m
		if content == 2 {
			m.status, m.trigger = models.LedgerQuarantined, content
			return models.OutcomeQuarantined
		}
		m.status, m.applied = models.LedgerProcessed, content
		return models.OutcomeProcessed
	}

	prevLast := m.last
	m.last = content
	switch m.status {
	case models.LedgerProcessed:
		if content == m.applied {
			return models.OutcomeDuplicate
		}
	case models.LedgerQuarantined:
		if content == prevLast {
			return models.OutcomeDuplicate
		}
		return models.OutcomeQuarantined
	case models.LedgerIgnored:
		if content == prevLast {
			return models.OutcomeDuplicate
		}
	}
	m.status, m.trigger, m.open = models.LedgerQuarantined, content, ""
	return models.OutcomeQuarantined
}

func TestEngine_MatchesReferenceModel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("engine agrees with the idempotency state machine", prop.ForAll(
		func(ops []int) (bool, error) {
			if err := runModel(t, ops); err != nil {
				return false, err
			}
			return true, nil
		},
		gen.SliceOfN(40, gen.IntRange(0, 44)),
	))

	properties.TestingRun(t)
}
