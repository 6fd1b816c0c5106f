package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/telhawk-systems/ledgersafe/tools/event-seeder/scenarios"
)

var (
	apiURL     = flag.String("url", "http://localhost:8088", "ingest API base URL")
	count      = flag.Int("count", 100, "number of fresh sales to generate")
	interval   = flag.Duration("interval", 20*time.Millisecond, "pause between requests")
	tenantID   = flag.String("tenant", "tenant_demo", "tenant id stamped on every event")
	stores     = flag.String("stores", "store_001,store_002,store_003", "comma-separated store ids")
	timeSpread = flag.Duration("time-spread", 24*time.Hour, "spread occurred_at over this window (0 for now)")
	dupRate    = flag.Float64("duplicate-rate", 0.1, "share of sales resent unchanged")
	scenario   = flag.String("scenario", "", "run a named scenario instead of mixed traffic")
	listOnly   = flag.Bool("list", false, "list scenarios and exit")
	seed       = flag.Int64("seed", 0, "gofakeit seed (0 picks one)")
)

type result struct {
	Outcome     string  `json:"outcome"`
	ExceptionID *string `json:"exception_id,omitempty"`
	ReasonCode  *string `json:"reason_code,omitempty"`
}

// tally counts outcomes and predictions that did not hold.
type tally struct {
	outcomes   map[string]int
	mismatches int
	failures   int
}

func main() {
	flag.Parse()

	if *listOnly {
		for _, name := range scenarios.List() {
			p, _ := scenarios.Get(name)
			fmt.Printf("%-20s %s\n", name, p.Description())
		}
		return
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)

	cfg := &scenarios.Config{
		Now:        time.Now().UTC(),
		TimeSpread: *timeSpread,
		TenantID:   *tenantID,
		Stores:     splitList(*stores),
	}

	planned, err := plan(cfg, *scenario, *count, *dupRate)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("Starting event seeder:")
	log.Printf("  URL: %s", *apiURL)
	log.Printf("  Tenant: %s", *tenantID)
	log.Printf("  Requests: %d", len(planned))
	log.Printf("  Seed: %d", *seed)

	client := &http.Client{Timeout: 10 * time.Second}
	t := run(context.Background(), client, *apiURL, planned, *interval)

	log.Printf("Seeding complete:")
	for outcome, n := range t.outcomes {
		log.Printf("  %s: %d", outcome, n)
	}
	log.Printf("  failed requests: %d", t.failures)
	if t.mismatches > 0 {
		log.Printf("  unexpected outcomes: %d", t.mismatches)
		os.Exit(1)
	}
}

// plan builds the request sequence: either one scenario with its default
// parameters, or count fresh sales with a share of identical retries.
func plan(cfg *scenarios.Config, name string, count int, dupRate float64) ([]scenarios.Planned, error) {
	if name != "" {
		p, ok := scenarios.Get(name)
		if !ok {
			return nil, fmt.Errorf("unknown scenario %q (have %s)", name, strings.Join(scenarios.List(), ", "))
		}
		cfg.Params = p.DefaultParams()
		if count > 0 {
			cfg.Params["count"] = count
		}
		return p.Generate(cfg)
	}

	out := make([]scenarios.Planned, 0, count)
	for i := 0; i < count; i++ {
		e := scenarios.NewSale(cfg, i, count)
		out = append(out, scenarios.Planned{Event: e, Expect: scenarios.ExpectProcessed})
		if rand.Float64() < dupRate {
			out = append(out, scenarios.Planned{Event: scenarios.Clone(e), Expect: scenarios.ExpectDuplicate})
		}
	}
	return out, nil
}

func run(ctx context.Context, client *http.Client, baseURL string, planned []scenarios.Planned, pause time.Duration) tally {
	t := tally{outcomes: make(map[string]int)}

	for i, p := range planned {
		res, err := sendEvent(ctx, client, baseURL, p.Event)
		if err != nil {
			log.Printf("Failed to send %s: %v", p.Event.EventID, err)
			t.failures++
			continue
		}

		t.outcomes[res.Outcome]++
		if res.Outcome != string(p.Expect) {
			t.mismatches++
			log.Printf("Unexpected outcome for %s: got %s, want %s", p.Event.EventID, res.Outcome, p.Expect)
		}

		if (i+1)%50 == 0 {
			log.Printf("Progress: %d/%d requests sent", i+1, len(planned))
		}
		if pause > 0 && i < len(planned)-1 {
			time.Sleep(pause)
		}
	}
	return t
}

func sendEvent(ctx context.Context, client *http.Client, baseURL string, e scenarios.Event) (*result, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return nil, fmt.Errorf("ingest returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &res, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
