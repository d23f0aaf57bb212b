package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kenjisakuragi/YT2Mail/internal/models"
)

// Contract names the output format a prompt asked the provider for.
// The caller picks it from the prompt it sent; it is never sniffed from the response.
type Contract int

const (
	ContractJSON Contract = iota
	ContractDelimited
)

func (c Contract) String() string {
	switch c {
	case ContractJSON:
		return "json"
	case ContractDelimited:
		return "delimited"
	}
	return fmt.Sprintf("contract(%d)", int(c))
}

// ParsedResponse is a provider response reduced to the internal document.
type ParsedResponse struct {
	Summary    models.SummaryDocument
	Transcript string
}

const (
	transcriptStart = "[TRANSCRIPT_START]"
	transcriptEnd   = "[TRANSCRIPT_END]"
	summaryStart    = "[SUMMARY_START]"
	summaryEnd      = "[SUMMARY_END]"
)

// Delimited-contract field headers, in prompt order.
var sectionHeaders = []string{
	"BUSINESS_OVERVIEW",
	"KEY_METRICS",
	"ACQUISITION_STRATEGY",
	"TOOLS_USED",
	"JAPAN_APPLICATION",
	"DETAILED_ARTICLE",
}

var sectionMarker = regexp.MustCompile(`(?i)=== ([A-Z_]+) ===`)

// ParseProviderResponse decodes text according to contract. A response with
// neither a business overview nor a transcript is a summarization failure.
func ParseProviderResponse(text string, contract Contract) (ParsedResponse, error) {
	var (
		parsed ParsedResponse
		err    error
	)
	switch contract {
	case ContractJSON:
		parsed, err = parseJSONResponse(text)
	case ContractDelimited:
		parsed = parseDelimitedResponse(text)
	default:
		return ParsedResponse{}, fmt.Errorf("%w: unknown response contract %s", models.ErrSummarizationFailed, contract)
	}
	if err != nil {
		return ParsedResponse{}, err
	}

	if parsed.Summary.BusinessOverview == "" && parsed.Transcript == "" {
		return ParsedResponse{}, fmt.Errorf("%w: %s response has no recognizable fields", models.ErrSummarizationFailed, contract)
	}
	return parsed, nil
}

// jsonSummary mirrors SummaryDocument but tolerates non-string field values.
type jsonSummary struct {
	BusinessOverview    flexString `json:"business_overview"`
	KeyMetrics          flexString `json:"key_metrics"`
	AcquisitionStrategy flexString `json:"acquisition_strategy"`
	ToolsUsed           flexString `json:"tools_used"`
	JapanApplication    flexString `json:"japan_application"`
	DetailedArticle     flexString `json:"detailed_article"`
}

func (s jsonSummary) document() models.SummaryDocument {
	return models.SummaryDocument{
		BusinessOverview:    strings.TrimSpace(string(s.BusinessOverview)),
		KeyMetrics:          strings.TrimSpace(string(s.KeyMetrics)),
		AcquisitionStrategy: strings.TrimSpace(string(s.AcquisitionStrategy)),
		ToolsUsed:           strings.TrimSpace(string(s.ToolsUsed)),
		JapanApplication:    strings.TrimSpace(string(s.JapanApplication)),
		DetailedArticle:     strings.TrimSpace(string(s.DetailedArticle)),
	}
}

type jsonEnvelope struct {
	Summary    *jsonSummary `json:"summary"`
	Transcript flexString   `json:"transcript"`
	jsonSummary
}

func parseJSONResponse(text string) (ParsedResponse, error) {
	raw := stripCodeFence(text)

	var env jsonEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return ParsedResponse{}, fmt.Errorf("%w: response is not valid JSON: %v", models.ErrSummarizationFailed, err)
	}

	parsed := ParsedResponse{Transcript: strings.TrimSpace(string(env.Transcript))}
	if env.Summary != nil {
		parsed.Summary = env.Summary.document()
	} else {
		// Bare summary object without the wrapper.
		parsed.Summary = env.jsonSummary.document()
	}
	return parsed, nil
}

// stripCodeFence reduces text to its outermost JSON object, dropping markdown
// fences and chatter on either side. Backticks inside the object are kept.
func stripCodeFence(text string) string {
	raw := strings.TrimSpace(text)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```JSON", "")
	return strings.TrimSpace(strings.ReplaceAll(raw, "```", ""))
}

func parseDelimitedResponse(text string) ParsedResponse {
	var parsed ParsedResponse
	if block, ok := between(text, transcriptStart, transcriptEnd); ok {
		parsed.Transcript = strings.TrimSpace(block)
	}

	summaryText := text
	if block, ok := between(text, summaryStart, summaryEnd); ok {
		summaryText = block
	} else if i := strings.Index(text, summaryStart); i >= 0 {
		// Truncated response: keep everything after the start marker.
		summaryText = text[i+len(summaryStart):]
	}

	sections := extractSections(summaryText)
	parsed.Summary = models.SummaryDocument{
		BusinessOverview:    sections["BUSINESS_OVERVIEW"],
		KeyMetrics:          sections["KEY_METRICS"],
		AcquisitionStrategy: sections["ACQUISITION_STRATEGY"],
		ToolsUsed:           sections["TOOLS_USED"],
		JapanApplication:    sections["JAPAN_APPLICATION"],
		DetailedArticle:     sections["DETAILED_ARTICLE"],
	}
	return parsed
}

// extractSections maps each upper-cased header to the trimmed text running to
// the next header, the end-of-summary marker, or the end of text. The first
// occurrence of a header wins.
func extractSections(text string) map[string]string {
	if i := strings.Index(text, summaryEnd); i >= 0 {
		text = text[:i]
	}

	sections := make(map[string]string)
	marks := sectionMarker.FindAllStringSubmatchIndex(text, -1)
	for i, m := range marks {
		name := strings.ToUpper(text[m[2]:m[3]])
		if _, seen := sections[name]; seen {
			continue
		}
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		sections[name] = strings.TrimSpace(text[m[1]:end])
	}
	return sections
}

func between(text, start, end string) (string, bool) {
	i := strings.Index(text, start)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(start):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// FormatDelimited renders a document in the delimited contract. Parsing the
// result yields the same trimmed field values as long as no value contains a
// bracket marker or a "=== NAME ===" header line.
func FormatDelimited(doc models.SummaryDocument, transcript string) string {
	values := []string{
		doc.BusinessOverview,
		doc.KeyMetrics,
		doc.AcquisitionStrategy,
		doc.ToolsUsed,
		doc.JapanApplication,
		doc.DetailedArticle,
	}

	var b strings.Builder
	b.WriteString(transcriptStart + "\n")
	b.WriteString(transcript)
	b.WriteString("\n" + transcriptEnd + "\n\n")
	b.WriteString(summaryStart + "\n")
	for i, header := range sectionHeaders {
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", header, values[i])
	}
	b.WriteString(summaryEnd + "\n")
	return b.String()
}

// FormatJSON renders a document in the JSON contract.
func FormatJSON(doc models.SummaryDocument, transcript string) (string, error) {
	env := struct {
		Transcript string                 `json:"transcript"`
		Summary    models.SummaryDocument `json:"summary"`
	}{Transcript: transcript, Summary: doc}
	env.Summary.Transcript = ""

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// flexString accepts a JSON string, or renders arrays and objects as text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case '[':
		var items []flexString
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		lines := make([]string, 0, len(items))
		for _, item := range items {
			if s := strings.TrimSpace(string(item)); s != "" {
				lines = append(lines, s)
			}
		}
		*f = flexString(strings.Join(lines, "\n"))
	default:
		// Numbers, booleans and objects are kept as their JSON text.
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*f = flexString(buf.String())
	}
	return nil
}
