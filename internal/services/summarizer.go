package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/kenjisakuragi/YT2Mail/internal/logging"
	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

// Summarizer turns a transcript or an audio file into a SummaryDocument.
type Summarizer struct {
	provider Provider
	log      *slog.Logger
}

// NewSummarizer accepts a nil provider; every call then fails with
// models.ErrMissingAPIKey.
func NewSummarizer(provider Provider, log *slog.Logger) *Summarizer {
	return &Summarizer{provider: provider, log: log}
}

// Ready reports whether summarization calls can be made at all.
func (s *Summarizer) Ready() error {
	if s.provider == nil {
		return models.ErrMissingAPIKey
	}
	return nil
}

// SummarizeText asks for the JSON contract.
func (s *Summarizer) SummarizeText(ctx context.Context, videoID, transcript string) (models.SummaryDocument, error) {
	if err := s.Ready(); err != nil {
		return models.SummaryDocument{}, err
	}

	text, err := s.provider.GenerateContent(ctx, genai.Text(buildTextPrompt(transcript)))
	if err != nil {
		return models.SummaryDocument{}, fmt.Errorf("%w: %w", models.ErrSummarizationFailed, err)
	}

	parsed, err := ParseProviderResponse(text, ContractJSON)
	if err != nil {
		logging.ForVideo(s.log, videoID, "summarize").Debug("unparseable response", slog.String("response", truncate(text, 500)))
		return models.SummaryDocument{}, err
	}
	return parsed.Summary, nil
}

// SummarizeAudio uploads the file, asks for the delimited contract and
// deletes the uploaded file whatever the outcome.
func (s *Summarizer) SummarizeAudio(ctx context.Context, videoID, path, mimeType string) (ParsedResponse, error) {
	if err := s.Ready(); err != nil {
		return ParsedResponse{}, err
	}
	log := logging.ForVideo(s.log, videoID, "summarize")

	file, err := s.provider.UploadFile(ctx, path, mimeType)
	if err != nil {
		return ParsedResponse{}, fmt.Errorf("%w: %w", models.ErrSummarizationFailed, err)
	}
	log.Info("audio uploaded", slog.String("file", file.Name))

	// Ensure remote file is cleaned up
	defer func() {
		if err := s.provider.DeleteFile(context.Background(), file.Name); err != nil {
			log.Warn("failed to delete uploaded audio", slog.String("file", file.Name), slog.Any("error", err))
		}
	}()

	fileMIME := file.MIMEType
	if fileMIME == "" {
		fileMIME = mimeType
	}
	text, err := s.provider.GenerateContent(ctx,
		genai.Text(audioPrompt),
		genai.FileData{MIMEType: fileMIME, URI: file.URI},
	)
	if err != nil {
		return ParsedResponse{}, fmt.Errorf("%w: %w", models.ErrSummarizationFailed, err)
	}

	parsed, err := ParseProviderResponse(text, ContractDelimited)
	if err != nil {
		log.Debug("unparseable response", slog.String("response", truncate(text, 500)))
		return ParsedResponse{}, err
	}
	return parsed, nil
}

const analystRole = `あなたは優秀なビジネスアナリストです。
YouTube動画（スタートアップ創業者へのインタビュー）の内容を分析し、日本のビジネスパーソン向けに重要なビジネスインサイトを抽出してください。
出力はすべて日本語で書いてください（文字起こしのみ元の言語のまま）。`

const fieldGuide = `- business_overview: 何を売っているか、どんなビジネスモデルか
- key_metrics: 月商、利益率、初期費用など（判明している場合）
- acquisition_strategy: 最初の10〜100人の顧客をどう獲得したか
- tools_used: Shopify、Beehiiv、ノーコードツールなど使用しているスタック
- japan_application: この事例を日本市場で展開するための具体的なヒント
- detailed_article: 読者が没入して読める3000〜4000文字程度のブログ記事。創業者の苦労、転機、成功の秘訣をストーリーとして詳しく描写すること`

func buildTextPrompt(transcript string) string {
	var b strings.Builder
	b.WriteString(analystRole)
	b.WriteString("\n\n以下の文字起こしを分析し、次の構造のJSONオブジェクトのみを返してください。マークダウンや説明文は不要です。\n\n")
	b.WriteString(`{
  "transcript": "",
  "summary": {
    "business_overview": "...",
    "key_metrics": "...",
    "acquisition_strategy": "...",
    "tools_used": "...",
    "japan_application": "...",
    "detailed_article": "..."
  }
}`)
	b.WriteString("\n\n各フィールドの内容:\n")
	b.WriteString(fieldGuide)
	b.WriteString("\n\n文字起こし:\n")
	b.WriteString(transcript)
	return b.String()
}

var audioPrompt = analystRole + `

まず音声全体の正確な文字起こしを作成し、それに基づいて分析してください。
JSONは使わず、以下の見出しをそのまま使った形式で出力してください。

` + transcriptStart + `
（音声の完全な文字起こし）
` + transcriptEnd + `

` + summaryStart + `
=== BUSINESS_OVERVIEW ===
（何を売っているか、どんなビジネスモデルか）

=== KEY_METRICS ===
（月商、利益率、初期費用など）

=== ACQUISITION_STRATEGY ===
（最初の10〜100人の顧客をどう獲得したか）

=== TOOLS_USED ===
（使用しているツールやスタック）

=== JAPAN_APPLICATION ===
（日本市場で展開するための具体的なヒント）

=== DETAILED_ARTICLE ===
（3000〜4000文字程度のブログ記事形式の長文）
` + summaryEnd

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
