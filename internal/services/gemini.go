package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

// Provider is the generative model boundary used by Summarizer.
type Provider interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (string, error)
	// UploadFile stores a local file with the provider and returns once it
	// is ready to be referenced.
	UploadFile(ctx context.Context, path, mimeType string) (*genai.File, error)
	DeleteFile(ctx context.Context, name string) error
}

type GeminiProvider struct {
	client       *genai.Client
	model        *genai.GenerativeModel
	pollInterval time.Duration
	pollAttempts int
	log          *slog.Logger
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider returns models.ErrMissingAPIKey when apiKey is empty.
func NewGeminiProvider(ctx context.Context, apiKey, modelName string, log *slog.Logger) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, models.ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0.3)
	model.SetTopP(0.95)

	return &GeminiProvider{
		client:       client,
		model:        model,
		pollInterval: 2 * time.Second,
		pollAttempts: 90,
		log:          log,
	}, nil
}

func (p *GeminiProvider) Close() {
	p.client.Close()
}

func (p *GeminiProvider) GenerateContent(ctx context.Context, parts ...genai.Part) (string, error) {
	resp, err := p.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("Gemini generate error: %w", err)
	}
	text := strings.TrimSpace(extractText(resp))
	if text == "" {
		return "", fmt.Errorf("Gemini returned an empty response")
	}
	return text, nil
}

func (p *GeminiProvider) UploadFile(ctx context.Context, path, mimeType string) (*genai.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	file, err := p.client.UploadFile(ctx, "", f, &genai.UploadFileOptions{
		DisplayName: filepath.Base(path),
		MIMEType:    mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload audio to Gemini: %w", err)
	}

	active, err := p.waitActive(ctx, file)
	if err != nil {
		// The caller never sees this file, so clean it up here.
		if delErr := p.client.DeleteFile(context.Background(), file.Name); delErr != nil {
			p.log.Warn("failed to delete Gemini file", slog.String("file", file.Name), slog.Any("error", delErr))
		}
		return nil, err
	}
	return active, nil
}

// waitActive polls until the uploaded file can be referenced.
func (p *GeminiProvider) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	for i := 0; i < p.pollAttempts; i++ {
		if file.State == genai.FileStateActive {
			return file, nil
		}
		if file.State == genai.FileStateFailed {
			return nil, fmt.Errorf("Gemini failed to process uploaded file %s", file.Name)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.pollInterval):
		}

		current, err := p.client.GetFile(ctx, file.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to get uploaded file status: %w", err)
		}
		file = current
	}
	return nil, fmt.Errorf("uploaded file %s did not become active in time", file.Name)
}

func (p *GeminiProvider) DeleteFile(ctx context.Context, name string) error {
	return p.client.DeleteFile(ctx, name)
}

func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					text.WriteString(string(t))
				}
			}
		}
	}
	return text.String()
}
