// Command worker runs the background half of Agency OS: the dispatch
// pool draining the touch queue, lease recovery, the provider-event
// safety-net sweep, nightly retention, and the weekly conversion
// pattern detectors. It shares the store and Redis with cmd/server.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/pkg/distlock"
	"github.com/keiracom/agency-os/internal/pkg/logger"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/cis"
	"github.com/keiracom/agency-os/internal/service/enrichment"
	"github.com/keiracom/agency-os/internal/service/ingest"
	"github.com/keiracom/agency-os/internal/service/pool"
	"github.com/keiracom/agency-os/internal/service/suppression"
	"github.com/keiracom/agency-os/internal/service/thread"
	"github.com/keiracom/agency-os/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.TestMode {
		logger.Warn("TEST_MODE is on: all sends route to the operator address")
	}

	store, err := postgres.Open(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	// Dispatch rate limiting runs on Redis; the worker cannot degrade
	// without it the way the API server can.
	rdb := openRedis(cfg.Redis.URL)
	if rdb == nil {
		log.Fatal("redis is required: set redis.url or REDIS_URL")
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	adapters, err := buildAdapters(ctx, cfg)
	if err != nil {
		log.Fatalf("build channel adapters: %v", err)
	}

	supSvc := suppression.New(store.Suppressions, cfg.Policy.PersonalDomains)
	poolMgr := pool.New(store.PoolStore(), supSvc, buildEnrichment(cfg, rdb, store))
	threadSvc := thread.New(store.ThreadStore(), supSvc, buildClassifier(ctx, cfg.Classifier), cfg.Policy.AttributionWindowDays)

	notifier := worker.NewEventNotifier(store.WorkerStore(), worker.NewNotifier(nil))
	ingestSvc := ingest.New(store.Webhooks, store.Activities, threadSvc, supSvc, store.ThreadStore(), poolMgr, notifier)

	caps := map[domain.Channel]int{}
	for _, ch := range domain.AllChannels {
		caps[ch] = cfg.DailyCap(string(ch))
	}
	limiter := worker.NewRateLimiter(rdb, caps, store.RateLimits)

	dispatcher := worker.NewDispatcher(store.WorkerStore(), supSvc, limiter, adapters, channel.NewRenderer(), cfg.Dispatch)
	reclaimer := worker.NewReclaimer(store.WorkerStore(), cfg.Dispatch)

	// Only the HTTP adapters can re-poll a provider for missed events;
	// SES has no message-status endpoint, email relies on SNS webhooks.
	pollers := map[domain.Channel]worker.Poller{}
	for ch, a := range adapters {
		if p, ok := a.(worker.Poller); ok {
			pollers[ch] = p
		}
	}
	sweeper := worker.NewSweeper(store.Activities, pollers, ingestSvc, cfg.Dispatch)

	janitor := worker.NewJanitor(store.RetentionStore(), poolMgr, threadSvc)

	detector := cis.New(store.DetectorStore(), buildArchiver(ctx, cfg.CIS))
	lease := distlock.New(rdb, store.DB(), "cis:detect", 30*time.Minute)
	schedule := worker.NewDetectorSchedule(cisRunner{detector}, store, lease, cfg.CIS.Interval)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("loop started", "loop", name)
			fn(ctx)
		}()
	}

	for i := 0; i < cfg.Dispatch.Workers; i++ {
		run("dispatch", dispatcher.Run)
	}
	run("recovery", reclaimer.Run)
	run("sweep", sweeper.Run)
	run("janitor", janitor.Run)
	run("detector", schedule.Run)

	logger.Info("worker running",
		"dispatch_workers", cfg.Dispatch.Workers,
		"channels", len(adapters),
		"test_mode", cfg.TestMode)

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	logger.Info("worker stopped")
}

// cisRunner adapts the detector service to the schedule's interface.
type cisRunner struct{ svc *cis.Service }

func (r cisRunner) Detect(ctx context.Context, clientID string) error {
	_, err := r.svc.Detect(ctx, clientID)
	return err
}

func buildArchiver(ctx context.Context, cfg config.CISConfig) cis.Archiver {
	if cfg.ArchiveBucket == "" {
		return nil
	}
	archiver, err := cis.NewS3Archiver(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
	if err != nil {
		logger.Warn("pattern archive disabled", "error", err.Error())
		return nil
	}
	return archiver
}

func openRedis(url string) *redis.Client {
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	return redis.NewClient(opts)
}

// buildAdapters constructs the channel adapters that are configured.
// Email is always built; the HTTP channels need a base URL.
func buildAdapters(ctx context.Context, cfg *config.Config) (map[domain.Channel]channel.Adapter, error) {
	adapters := map[domain.Channel]channel.Adapter{}

	email, err := channel.NewEmailAdapter(ctx, channel.EmailOptions{
		AccessKey:     cfg.Channels.Email.AccessKey,
		SecretKey:     cfg.Channels.Email.SecretKey,
		Region:        cfg.Channels.Email.Region,
		TestMode:      cfg.TestMode,
		OperatorEmail: cfg.Channels.OperatorEmail,
	})
	if err != nil {
		return nil, err
	}
	adapters[domain.ChannelEmail] = email

	httpChannels := []struct {
		ch     domain.Channel
		cc     config.ChannelConfig
		secret string
		dest   string
	}{
		{domain.ChannelSMS, cfg.Channels.SMS, cfg.Webhooks.SMSSecret, cfg.Channels.OperatorPhone},
		{domain.ChannelLinkedIn, cfg.Channels.LinkedIn, cfg.Webhooks.LinkedInSecret, cfg.Channels.OperatorEmail},
		{domain.ChannelVoice, cfg.Channels.Voice, cfg.Webhooks.VoiceSecret, cfg.Channels.OperatorPhone},
		{domain.ChannelMail, cfg.Channels.Mail, "", cfg.Channels.OperatorEmail},
	}
	for _, hc := range httpChannels {
		if hc.cc.BaseURL == "" {
			continue
		}
		a, err := channel.NewHTTPAdapter(channel.HTTPOptions{
			Channel:       hc.ch,
			Provider:      string(hc.ch),
			BaseURL:       hc.cc.BaseURL,
			APIKey:        hc.cc.APIKey,
			WebhookSecret: hc.secret,
			TestMode:      cfg.TestMode,
			OperatorDest:  hc.dest,
		})
		if err != nil {
			return nil, err
		}
		adapters[hc.ch] = a
	}
	return adapters, nil
}

var enrichmentTiers = map[string]struct {
	tier    int
	costAUD float64
}{
	"bulk":      {1, 0.03},
	"waterfall": {2, 0.15},
	"premium":   {3, 0.60},
}

// buildEnrichment wires the waterfall from the configured provider
// roles. Returns a nil Enricher when none is configured; supply then
// stops at pool exhaustion instead of acquiring new leads.
func buildEnrichment(cfg *config.Config, rdb *redis.Client, store *postgres.Store) pool.Enricher {
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
	if rdb != nil {
		cache = enrichment.NewCache(rdb, cfg.Enrichment.CacheVersion, cfg.Enrichment.CacheTTLDays)
	}
	return enrichment.New(store.EnrichmentStore(), cache, providers, source)
}

func buildClassifier(ctx context.Context, cfg config.ClassifierConfig) thread.Classifier {
	cascade := &thread.Cascade{MinConfidence: cfg.MinConfidence}

	if cfg.OpenAIKey != "" {
		cascade.Cheap = thread.NewOpenAIClassifier(openai.NewClient(cfg.OpenAIKey), cfg.OpenAIModel)
	}
	if cfg.BedrockModel != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BedrockRegion))
		if err != nil {
			logger.Warn("bedrock unavailable, premium classifier tier disabled", "error", err.Error())
		} else {
			cascade.Premium = thread.NewBedrockClassifier(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModel)
		}
	}
	return cascade
}
