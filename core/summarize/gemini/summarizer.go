// Package gemini condenses a caller's description of their problem into a
// one-line issue summary using the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

const prompt = `Summarize the customer's support issue in one short sentence for a
helpdesk ticket. Reply with the sentence only.

Customer said:
%s`

var errEmptySummary = errors.New("model returned an empty summary")

type Summarizer struct {
	client *genai.Client
	model  string
}

type Option func(*options)

type options struct {
	model   string
	baseURL string
}

func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) { o.baseURL = baseURL }
}

func New(ctx context.Context, apiKey string, opts ...Option) (*Summarizer, error) {
	o := options{model: defaultModel}
	for _, opt := range opts {
		opt(&o)
	}

	config := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if o.baseURL != "" {
		config.HTTPOptions = genai.HTTPOptions{BaseURL: o.baseURL}
	}

	client, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Summarizer{client: client, model: o.model}, nil
}

func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	ctx, span := tracer.Start(ctx, "summarize.gemini", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", s.model))

	resp, err := s.client.Models.GenerateContent(ctx, s.model, genai.Text(fmt.Sprintf(prompt, text)), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		span.SetStatus(codes.Error, errEmptySummary.Error())
		return "", errEmptySummary
	}
	logger.DebugContext(ctx, "issue summarized", "model", s.model, "length", len(summary))
	return summary, nil
}
