package thread

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	openai "github.com/sashabaranov/go-openai"

	"github.com/keiracom/agency-os/internal/domain"
	"github.com/keiracom/agency-os/internal/errs"
)

// OpenAIClassifier is the cheap first pass of the cascade.
type OpenAIClassifier struct {
	client *openai.Client
	model  string
}

func NewOpenAIClassifier(client *openai.Client, model string) *OpenAIClassifier {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClassifier{client: client, model: model}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string, prior []domain.Message) (*domain.Classification, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		MaxTokens:   200,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: promptBody(text, prior)},
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.ProviderTransient, "thread.openai_failed", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.New(errs.ClassifierAmbig, "thread.empty_completion", c.model)
	}
	return parseModelClassification(resp.Choices[0].Message.Content)
}

// BedrockClassifier is the premium escalation tier.
type BedrockClassifier struct {
	client  *bedrockruntime.Client
	modelID string
}

func NewBedrockClassifier(client *bedrockruntime.Client, modelID string) *BedrockClassifier {
	if modelID == "" {
		modelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	return &BedrockClassifier{client: client, modelID: modelID}
}

type anthropicRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	System           string             `json:"system"`
	Messages         []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *BedrockClassifier) Classify(ctx context.Context, text string, prior []domain.Message) (*domain.Classification, error) {
	body, err := json.Marshal(anthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        200,
		System:           classifyPrompt,
		Messages:         []anthropicMessage{{Role: "user", Content: promptBody(text, prior)}},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "thread.bedrock_marshal", err)
	}

	out, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		var throttle *types.ThrottlingException
		if errors.As(err, &throttle) {
			return nil, errs.Wrap(errs.RateLimited, "thread.bedrock_throttled", err)
		}
		return nil, errs.Wrap(errs.ProviderTransient, "thread.bedrock_failed", err)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, errs.Wrap(errs.ClassifierAmbig, "thread.unparseable", err)
	}
	if len(resp.Content) == 0 {
		return nil, errs.New(errs.ClassifierAmbig, "thread.empty_completion", c.modelID)
	}
	return parseModelClassification(resp.Content[0].Text)
}

// promptBody includes the last few turns so models see replies like
// "yes, Tuesday works" in context.
func promptBody(text string, prior []domain.Message) string {
	var b strings.Builder
	if n := len(prior); n > 0 {
		b.WriteString("Earlier in the conversation:\n")
		start := 0
		if n > 4 {
			start = n - 4
		}
		for _, m := range prior[start:] {
			b.WriteString(string(m.Direction))
			b.WriteString(": ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(text)
	return b.String()
}
