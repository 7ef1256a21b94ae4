// Command server runs the Agency OS HTTP surface: the tenant-facing API
// and the inbound provider webhook endpoints. Dispatch and background
// jobs live in cmd/worker; both processes coordinate through the store.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"
	"github.com/sashabaranov/go-openai"

	"github.com/keiracom/agency-os/internal/api"
	"github.com/keiracom/agency-os/internal/auth"
	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/config"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/pkg/logger"
	"github.com/keiracom/agency-os/internal/repository/postgres"
	"github.com/keiracom/agency-os/internal/service/allocation"
	"github.com/keiracom/agency-os/internal/service/campaign"
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

	rdb := openRedis(cfg.Redis.URL)
	if rdb != nil {
		defer rdb.Close()
	}

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

	campaignSvc := campaign.New(
		store.Campaigns,
		store.Clients,
		poolMgr,
		campaign.NewLeadStore(store.LeadViews, store.PoolLeads),
		allocation.New(store.Clients),
		store.Queue,
		store.ScoreContext(cfg.Policy.PersonalDomains),
		sendResources(cfg),
		cfg.Dispatch.SendWindowStart,
	)

	handlers := api.NewHandlers(campaignSvc, store.LeadViews, store.Activities, supSvc, threadSvc, store.Signals, store.Reports)
	webhooks := api.NewWebhookHandlers(adapters, ingestSvc)
	server := api.NewServer(cfg.Server, handlers, webhooks, auth.NewManager(store.Clients))

	errc := make(chan error, 1)
	go func() { errc <- server.ListenAndServe() }()
	logger.Info("server listening", "addr", cfg.Server.Addr(), "test_mode", cfg.TestMode)

	select {
	case err := <-errc:
		log.Fatalf("server: %v", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
	logger.Info("server stopped")
}

// openRedis connects if a URL is configured; the API degrades without it
// (no enrichment cache).
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

// sendResources maps each channel to its configured sending identity.
func sendResources(cfg *config.Config) map[domain.Channel]string {
	return map[domain.Channel]string{
		domain.ChannelEmail:    cfg.Channels.Email.FromAddress,
		domain.ChannelSMS:      cfg.Channels.SMS.Resource,
		domain.ChannelLinkedIn: cfg.Channels.LinkedIn.Resource,
		domain.ChannelVoice:    cfg.Channels.Voice.Resource,
		domain.ChannelMail:     cfg.Channels.Mail.Resource,
	}
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

// enrichmentTiers fixes the waterfall position and unit cost per
// configured provider role.
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
			// The bulk provider doubles as the discovery source.
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

// buildClassifier assembles the reply-classifier cascade: keyword floor,
// cheap OpenAI tier, premium Bedrock tier for ambiguous replies.
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
