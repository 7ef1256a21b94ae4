// Command agencyctl is the operator CLI for Agency OS.
//
//	agencyctl [-config config.yaml] status
//	agencyctl [-config config.yaml] detect <client_id>
//	agencyctl [-config config.yaml] enrich <client_id> [-n 10]
//	agencyctl [-config config.yaml] simulate-reply <activity_id> -body "..."
//
// status exits non-zero when the queue has dead letters, so it slots
// into a monitoring check directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/cis"
	"github.com/keiracom/agency-os/internal/service/enrichment"
	"github.com/keiracom/agency-os/internal/service/ingest"
	"github.com/keiracom/agency-os/internal/service/pool"
	"github.com/keiracom/agency-os/internal/service/suppression"
	"github.com/keiracom/agency-os/internal/service/thread"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("load config: %v", err)
	}
	store, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		fatal("open store: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	args := flag.Args()[1:]
	switch flag.Arg(0) {
	case "status":
		runStatus(ctx, store)
	case "detect":
		runDetect(ctx, store, args)
	case "enrich":
		runEnrich(ctx, cfg, store, args)
	case "simulate-reply":
		runSimulateReply(ctx, cfg, store, args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: agencyctl [-config config.yaml] <command>

commands:
  status                                  queue depth, dead letters, channel usage
  detect <client_id>                      run the conversion pattern detectors now
  enrich <client_id> [-n 10]              acquire leads through the enrichment waterfall
  simulate-reply <activity_id> -body "…"  inject a reply as if the provider delivered it`)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "agencyctl: "+format+"\n", args...)
	os.Exit(1)
}

func runStatus(ctx context.Context, store *postgres.Store) {
	stats, err := store.Queue.PendingStats(ctx)
	if err != nil {
		fatal("queue stats: %v", err)
	}
	fmt.Println("touch queue:")
	for _, st := range []domain.TouchStatus{
		domain.TouchPending, domain.TouchClaimed, domain.TouchSent,
		domain.TouchSkipped, domain.TouchCancelled, domain.TouchDeadLetter,
	} {
		fmt.Printf("  %-8s %d\n", string(st), stats[st])
	}

	dead, err := store.Queue.DeadLetters(ctx, 20)
	if err != nil {
		fatal("dead letters: %v", err)
	}
	if len(dead) > 0 {
		fmt.Printf("\ndead letters (showing %d):\n", len(dead))
		for _, t := range dead {
			fmt.Printf("  %s  client=%s channel=%s touch=%d attempts=%d\n",
				t.ID, t.ClientID, string(t.Channel), t.TouchNumber, t.Attempts)
		}
	}

	sends, err := store.RateLimits.UsageForDay(ctx, time.Now().UTC())
	if err != nil {
		fatal("usage: %v", err)
	}
	if len(sends) > 0 {
		fmt.Println("\ntoday's sends per resource:")
		for res, used := range sends {
			fmt.Printf("  %-40s %d\n", res, used)
		}
	}

	if len(dead) > 0 {
		os.Exit(1)
	}
}

func runDetect(ctx context.Context, store *postgres.Store, args []string) {
	if len(args) != 1 {
		fatal("usage: detect <client_id>")
	}
	patterns, err := cis.New(store.DetectorStore(), nil).Detect(ctx, args[0])
	if err != nil {
		fatal("detect: %v", err)
	}
	if len(patterns) == 0 {
		fmt.Println("no patterns met the sample and confidence thresholds")
		return
	}
	for _, p := range patterns {
		fmt.Printf("%-6s confidence=%.2f samples=%d\n  %s\n",
			string(p.Type), p.Confidence, p.SampleSize, string(p.Payload))
	}
}

func runEnrich(ctx context.Context, cfg *config.Config, store *postgres.Store, args []string) {
	fs := flag.NewFlagSet("enrich", flag.ExitOnError)
	n := fs.Int("n", 10, "number of leads to acquire")
	if len(args) < 1 {
		fatal("usage: enrich <client_id> [-n 10]")
	}
	fs.Parse(args[1:])

	svc := buildEnrichment(cfg, store)
	if svc == nil {
		fatal("no enrichment providers configured")
	}

	client, err := store.Clients.Get(ctx, args[0])
	if err != nil {
		fatal("client: %v", err)
	}
	leads, err := svc.Acquire(ctx, client.ID, domain.ICPFilter{
		Industries:  client.TargetIndustries,
		Countries:   client.TargetCountries,
		EmployeeMin: client.TargetEmployeeMin,
		EmployeeMax: client.TargetEmployeeMax,
	}, *n)
	if err != nil {
		fatal("enrich: %v", err)
	}
	fmt.Printf("acquired %d leads\n", len(leads))
	for _, l := range leads {
		fmt.Printf("  %s  %s  %s\n", l.ID, l.Email, l.Company)
	}
}

func runSimulateReply(ctx context.Context, cfg *config.Config, store *postgres.Store, args []string) {
	fs := flag.NewFlagSet("simulate-reply", flag.ExitOnError)
	body := fs.String("body", "", "reply body text")
	if len(args) < 1 {
		fatal("usage: simulate-reply <activity_id> -body \"...\"")
	}
	fs.Parse(args[1:])
	if *body == "" {
		fatal("-body is required")
	}

	act, err := store.Activities.Get(ctx, args[0])
	if err != nil {
		fatal("activity: %v", err)
	}
	if act.ProviderMessageID == "" {
		fatal("activity %s has no provider message id; only sent touches can receive replies", act.ID)
	}

	// Keyword-only classification keeps the simulation offline; an
	// ambiguous body parks the thread for review like any other reply.
	supSvc := suppression.New(store.Suppressions, cfg.Policy.PersonalDomains)
	threadSvc := thread.New(store.ThreadStore(), supSvc, &thread.Cascade{MinConfidence: cfg.Classifier.MinConfidence}, cfg.Policy.AttributionWindowDays)
	poolMgr := pool.New(store.PoolStore(), supSvc, nil)
	ingestSvc := ingest.New(store.Webhooks, store.Activities, threadSvc, supSvc, store.ThreadStore(), poolMgr, nil)

	ev := &channel.Event{
		Provider:          "simulator",
		ProviderEventID:   uuid.New().String(),
		Type:              channel.EventReplied,
		ProviderMessageID: act.ProviderMessageID,
		Body:              *body,
		OccurredAt:        time.Now().UTC(),
	}
	if err := ingestSvc.Ingest(ctx, act.Channel, ev); err != nil {
		fatal("ingest: %v", err)
	}
	fmt.Printf("reply ingested for activity %s on %s\n", act.ID, string(act.Channel))
}

var enrichmentTiers = map[string]struct {
	tier    int
	costAUD float64
}{
	"bulk":      {1, 0.03},
	"waterfall": {2, 0.15},
	"premium":   {3, 0.60},
}

func buildEnrichment(cfg *config.Config, store *postgres.Store) *enrichment.Service {
	var providers []enrichment.Provider
	var source enrichment.Source
	for role, spec := range enrichmentTiers {
		key, ok := cfg.Enrichment.Providers[role]
		if !ok {
			continue
		}
		baseURL := cfg.Enrichment.BaseURLs[role]
		if baseURL == "" {
			continue
		}
		p := enrichment.NewHTTPProvider(role, spec.tier, spec.costAUD, baseURL, key)
		providers = append(providers, p)
		if spec.tier == 1 {
			source = p
		}
	}
	if len(providers) == 0 {
		return nil
	}

	var cache *enrichment.Cache
	if cfg.Redis.URL != "" {
		if opts, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			cache = enrichment.NewCache(redis.NewClient(opts), cfg.Enrichment.CacheVersion, cfg.Enrichment.CacheTTLDays)
		}
	}
	return enrichment.New(store.EnrichmentStore(), cache, providers, source)
}
