package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

// fakeProvider records calls and returns canned output.
type fakeProvider struct {
	response    string
	generateErr error
	uploadErr   error

	prompts  []string
	uploaded []string
	deleted  []string
}

func (f *fakeProvider) GenerateContent(ctx context.Context, parts ...genai.Part) (string, error) {
	for _, p := range parts {
		if t, ok := p.(genai.Text); ok {
			f.prompts = append(f.prompts, string(t))
		}
	}
	return f.response, f.generateErr
}

func (f *fakeProvider) UploadFile(ctx context.Context, path, mimeType string) (*genai.File, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	f.uploaded = append(f.uploaded, path)
	return &genai.File{Name: "files/" + path, URI: "https://files.example/" + path, MIMEType: mimeType, State: genai.FileStateActive}, nil
}

func (f *fakeProvider) DeleteFile(ctx context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}

func TestSummarizer_MissingProvider(t *testing.T) {
	s := NewSummarizer(nil, logging.Discard())

	if err := s.Ready(); !errors.Is(err, models.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	_, err := s.SummarizeText(context.Background(), "vid", "text")
	if !errors.Is(err, models.ErrMissingAPIKey) || !errors.Is(err, models.ErrSummarizationFailed) {
		t.Fatalf("expected missing key summarization failure, got %v", err)
	}
	_, err = s.SummarizeAudio(context.Background(), "vid", "a.m4a", "audio/mp4")
	if !errors.Is(err, models.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSummarizer_SummarizeTextUsesJSONContract(t *testing.T) {
	p := &fakeProvider{response: `{"summary": {"business_overview": "B2B SaaS"}, "transcript": ""}`}
	s := NewSummarizer(p, logging.Discard())

	doc, err := s.SummarizeText(context.Background(), "vid", "the founder said hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.BusinessOverview != "B2B SaaS" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if len(p.prompts) != 1 || !strings.Contains(p.prompts[0], "the founder said hello") {
		t.Fatalf("expected transcript in prompt, got %v", p.prompts)
	}
}

func TestSummarizer_ProviderErrorIsSummarizationFailure(t *testing.T) {
	cause := errors.New("quota exceeded")
	p := &fakeProvider{generateErr: cause}
	s := NewSummarizer(p, logging.Discard())

	_, err := s.SummarizeText(context.Background(), "vid", "text")
	if !errors.Is(err, models.ErrSummarizationFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped provider error, got %v", err)
	}
}

func TestSummarizer_SummarizeAudio(t *testing.T) {
	p := &fakeProvider{response: FormatDelimited(models.SummaryDocument{BusinessOverview: "Podcast network"}, "full words")}
	s := NewSummarizer(p, logging.Discard())

	parsed, err := s.SummarizeAudio(context.Background(), "vid", "tmp/vid.m4a", "audio/mp4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.Transcript != "full words" || parsed.Summary.BusinessOverview != "Podcast network" {
		t.Fatalf("unexpected result %+v", parsed)
	}
	if len(p.deleted) != 1 || p.deleted[0] != "files/tmp/vid.m4a" {
		t.Fatalf("expected uploaded file to be deleted, got %v", p.deleted)
	}
	if !strings.Contains(p.prompts[0], "[SUMMARY_START]") {
		t.Fatal("expected delimited prompt")
	}
}

func TestSummarizer_SummarizeAudioDeletesUploadOnParseFailure(t *testing.T) {
	p := &fakeProvider{response: "I'm sorry, I cannot help with that."}
	s := NewSummarizer(p, logging.Discard())

	_, err := s.SummarizeAudio(context.Background(), "vid", "tmp/vid.m4a", "audio/mp4")
	if !errors.Is(err, models.ErrSummarizationFailed) {
		t.Fatalf("expected ErrSummarizationFailed, got %v", err)
	}
	if len(p.deleted) != 1 {
		t.Fatalf("expected cleanup even on parse failure, got %v", p.deleted)
	}
}

func TestSummarizer_SummarizeAudioDeletesUploadOnGenerateFailure(t *testing.T) {
	p := &fakeProvider{generateErr: errors.New("503")}
	s := NewSummarizer(p, logging.Discard())

	if _, err := s.SummarizeAudio(context.Background(), "vid", "tmp/vid.m4a", "audio/mp4"); err == nil {
		t.Fatal("expected error")
	}
	if len(p.deleted) != 1 {
		t.Fatalf("expected cleanup on generate failure, got %v", p.deleted)
	}
}

func TestSummarizer_UploadFailureHasNothingToDelete(t *testing.T) {
	p := &fakeProvider{uploadErr: errors.New("upload refused")}
	s := NewSummarizer(p, logging.Discard())

	_, err := s.SummarizeAudio(context.Background(), "vid", "tmp/vid.m4a", "audio/mp4")
	if !errors.Is(err, models.ErrSummarizationFailed) {
		t.Fatalf("expected ErrSummarizationFailed, got %v", err)
	}
	if len(p.deleted) != 0 {
		t.Fatalf("expected no delete call, got %v", p.deleted)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("日本語のテキスト", 3); got != "日本語…" {
		t.Fatalf("unexpected %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("unexpected %q", got)
	}
}
