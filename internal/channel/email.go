package channel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
	"github.com/keiracom/agency-os/internal/pkg/logger"
)

// EmailAdapter sends through AWS SES. In test mode every send is routed
// to the operator mailbox, enforced at construction so no caller can
// forget it.
type EmailAdapter struct {
	client        *sesv2.Client
	operatorEmail string
	testMode      bool
	log           *logger.Logger
}

// EmailOptions configures the SES adapter.
type EmailOptions struct {
	AccessKey     string
	SecretKey     string
	Region        string
	TestMode      bool
	OperatorEmail string
}

func NewEmailAdapter(ctx context.Context, opts EmailOptions) (*EmailAdapter, error) {
	if opts.TestMode && opts.OperatorEmail == "" {
		return nil, errs.New(errs.Validation, "channel.test_mode_no_operator", "email")
	}
	region := opts.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "channel.aws_config", err)
	}

	return &EmailAdapter{
		client:        sesv2.NewFromConfig(cfg),
		operatorEmail: opts.OperatorEmail,
		testMode:      opts.TestMode,
		log:           logger.For("channel.email"),
	}, nil
}

func (a *EmailAdapter) Channel() domain.Channel { return domain.ChannelEmail }

func (a *EmailAdapter) Send(ctx context.Context, env *Envelope) (*SendResult, error) {
	to := env.To
	if a.testMode {
		to = a.operatorEmail
	}

	msg := &types.Message{
		Subject: &types.Content{Data: aws.String(env.Subject), Charset: aws.String("UTF-8")},
		Body: &types.Body{
			Text: &types.Content{Data: aws.String(env.Body), Charset: aws.String("UTF-8")},
		},
	}
	if env.HTMLBody != "" {
		msg.Body.Html = &types.Content{Data: aws.String(env.HTMLBody), Charset: aws.String("UTF-8")}
	}
	if env.InReplyTo != "" {
		msg.Headers = []types.MessageHeader{
			{Name: aws.String("In-Reply-To"), Value: aws.String(env.InReplyTo)},
			{Name: aws.String("References"), Value: aws.String(env.InReplyTo)},
		}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(env.FromName + " <" + env.FromAddress + ">"),
		ReplyToAddresses: []string{env.FromAddress},
		Destination:      &types.Destination{ToAddresses: []string{to}},
		Content:          &types.EmailContent{Simple: msg},
		EmailTags: []types.MessageTag{
			{Name: aws.String("touch_id"), Value: aws.String(env.TouchID)},
			{Name: aws.String("campaign_id"), Value: aws.String(env.CampaignID)},
		},
	}

	result, err := a.client.SendEmail(ctx, input)
	if err != nil {
		return nil, classifySESError(err)
	}

	id := ""
	if result.MessageId != nil {
		id = *result.MessageId
	}
	a.log.Info("email sent",
		"to", logger.RedactEmail(to), "resource", env.Resource, "message_id", id)
	return &SendResult{ProviderMessageID: id, DeliverabilityHint: "accepted"}, nil
}

func classifySESError(err error) error {
	var tooMany *types.TooManyRequestsException
	if errors.As(err, &tooMany) {
		return errs.Wrap(errs.RateLimited, "channel.email_throttled", err)
	}
	var paused *types.SendingPausedException
	if errors.As(err, &paused) {
		return errs.Wrap(errs.ProviderPermanent, "channel.email_sending_paused", err)
	}
	var bad *types.BadRequestException
	if errors.As(err, &bad) {
		return errs.Wrap(errs.ProviderPermanent, "channel.email_rejected", err)
	}
	return errs.Wrap(errs.ProviderTransient, "channel.email_send_failed", err)
}

// sesEvent is the SES event-publishing payload shape.
type sesEvent struct {
	EventType string `json:"eventType"`
	Mail      struct {
		MessageID string `json:"messageId"`
		Timestamp string `json:"timestamp"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
		FeedbackID string `json:"feedbackId"`
	} `json:"bounce"`
	Complaint struct {
		FeedbackID string `json:"feedbackId"`
	} `json:"complaint"`
}

// ParseWebhook converts an SES event notification. The HMAC is our own
// relay signature, checked by the receiver before this is called.
func (a *EmailAdapter) ParseWebhook(payload []byte, _ string) ([]Event, error) {
	var ev sesEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errs.Wrap(errs.Validation, "channel.email_webhook_malformed", err)
	}
	if ev.Mail.MessageID == "" {
		return nil, errs.New(errs.Validation, "channel.email_webhook_no_message", "")
	}

	var typ EventType
	eventID := ev.Mail.MessageID + ":" + ev.EventType
	switch ev.EventType {
	case "Delivery":
		typ = EventDelivered
	case "Open":
		typ = EventOpened
	case "Click":
		typ = EventClicked
	case "Bounce":
		typ = EventBounced
		if ev.Bounce.FeedbackID != "" {
			eventID = ev.Bounce.FeedbackID
		}
	case "Complaint":
		typ = EventComplaint
		if ev.Complaint.FeedbackID != "" {
			eventID = ev.Complaint.FeedbackID
		}
	default:
		return nil, errs.New(errs.Validation, "channel.email_webhook_unknown_event", ev.EventType)
	}

	occurred, _ := time.Parse(time.RFC3339, ev.Mail.Timestamp)
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return []Event{{
		Provider:          "ses",
		ProviderEventID:   eventID,
		Type:              typ,
		ProviderMessageID: ev.Mail.MessageID,
		OccurredAt:        occurred,
		Raw:               json.RawMessage(payload),
	}}, nil
}
