package api

import (
	"context"
	"io"
	"net/http"

	"github.com/keiracom/agency-os/internal/channel"
	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/httputil"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// Ingestor applies a parsed provider event.
type Ingestor interface {
	Ingest(ctx context.Context, ch domain.Channel, ev *channel.Event) error
}

// WebhookHandlers receives provider callbacks. Answer codes steer the
// provider's retry behaviour: 4xx means the payload is bad and must not
// be retried, 5xx means try again later.
type WebhookHandlers struct {
	adapters map[domain.Channel]channel.Adapter
	ingest   Ingestor
	log      *logger.Logger
}

func NewWebhookHandlers(adapters map[domain.Channel]channel.Adapter, ingest Ingestor) *WebhookHandlers {
	return &WebhookHandlers{adapters: adapters, ingest: ingest, log: logger.For("webhooks")}
}

const maxWebhookBody = 1 << 20

// Receive builds the endpoint for one channel.
func (h *WebhookHandlers) Receive(channelName string) http.HandlerFunc {
	ch := domain.Channel(channelName)
	return func(w http.ResponseWriter, r *http.Request) {
		adapter, ok := h.adapters[ch]
		if !ok {
			httputil.NotFound(w, "unknown channel")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			httputil.BadRequest(w, "unreadable body")
			return
		}

		events, err := adapter.ParseWebhook(payload, r.Header.Get("X-Webhook-Signature"))
		if err != nil {
			h.log.Warn("webhook rejected",
				"channel", channelName, "code", errs.CodeOf(err), "error", err.Error())
			httputil.BadRequest(w, "invalid payload")
			return
		}

		accepted, ignored := 0, 0
		for i := range events {
			err := h.ingest.Ingest(r.Context(), ch, &events[i])
			switch {
			case err == nil:
				accepted++
			case errs.IsKind(err, errs.Validation):
				// A provider retry cannot fix an unresolvable event.
				ignored++
				h.log.Warn("event ignored",
					"channel", channelName, "event_id", events[i].ProviderEventID,
					"code", errs.CodeOf(err))
			default:
				// 5xx so the provider redelivers; dedup absorbs the
				// events already applied from this batch.
				httputil.InternalError(w, err)
				return
			}
		}

		httputil.OK(w, map[string]int{"accepted": accepted, "ignored": ignored})
	}
}
