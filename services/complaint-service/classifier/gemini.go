package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"civic-complaint-system/pkg/middleware"
	"civic-complaint-system/services/complaint-service/decision"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-2.5-flash"
)

const classifyPrompt = `You triage civic-issue complaints for a city administration.
Given the citizen's description (and photo, if attached), answer with a single JSON object:
{"category": one of pothole, road_damage, drainage, garbage, sewage, streetlight, power_outage,
 water_supply, water_leak, pollution, traffic, other;
 "severity": low | medium | high | critical;
 "priority": low | medium | high | critical;
 "confidenceScore": number between 0 and 1 that this is a genuine civic issue;
 "authenticityStatus": fake | uncertain | real;
 "reasoning": one short paragraph}.
Output ONLY the JSON object.`

// Gemini implements Gateway and Explainer against the Gemini REST API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

func NewGemini(apiKey, model string) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	return &Gemini{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL points the client at another endpoint.
func (g *Gemini) WithBaseURL(u string) *Gemini {
	g.baseURL = strings.TrimRight(u, "/")
	return g
}

type geminiRequest struct {
	SystemInstruction *content          `json:"system_instruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type classificationJSON struct {
	Category           string   `json:"category"`
	Severity           string   `json:"severity"`
	Priority           string   `json:"priority"`
	ConfidenceScore    *float64 `json:"confidenceScore"`
	AuthenticityStatus string   `json:"authenticityStatus"`
	Reasoning          string   `json:"reasoning"`
}

func (g *Gemini) Classify(ctx context.Context, p Payload) (*decision.Classification, error) {
	prompt := fmt.Sprintf("Description: %s\nLocation: %s", p.Description, p.Location)
	parts := []part{{Text: prompt}}
	if len(p.Image) > 0 {
		mime := p.ImageMIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(p.Image),
		}})
	}

	text, err := g.generate(ctx, geminiRequest{
		SystemInstruction: &content{Parts: []part{{Text: classifyPrompt}}},
		Contents:          []content{{Parts: parts}},
		GenerationConfig:  &generationConfig{Temperature: 0.1, ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, err
	}
	c, err := parseClassification(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAnswer, err)
	}
	return c, nil
}

func (g *Gemini) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	prompt := fmt.Sprintf(
		"In exactly one sentence, justify why a %s-severity complaint handled by the %s department, "+
			"unresolved for %s and now in status %q, is being escalated.",
		req.Severity, req.Department, time.Duration(req.ElapsedSeconds)*time.Second, req.Status)

	text, err := g.generate(ctx, geminiRequest{
		Contents:         []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{Temperature: 0.3},
	})
	if err != nil {
		return "", err
	}
	sentence := strings.TrimSpace(strings.SplitN(strings.TrimSpace(text), "\n", 2)[0])
	if sentence == "" {
		return "", errors.New("empty justification")
	}
	return sentence, nil
}

func (g *Gemini) generate(ctx context.Context, reqBody geminiRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Keep the key out of the URL; transport errors quote it.
	req.Header.Set("x-goog-api-key", g.apiKey)
	middleware.PropagateTraceID(req, middleware.TraceIDFromContext(ctx))

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %w", ErrUnreachable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		log.Println("[WARN] Classification API rate limited (429)")
		return "", &APIError{StatusCode: resp.StatusCode, Message: "rate limited"}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("%w: failed to parse response: %w", ErrInvalidAnswer, err)
	}
	if gr.Error != nil {
		return "", &APIError{StatusCode: gr.Error.Code, Message: gr.Error.Message}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrInvalidAnswer)
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// parseClassification decodes the model's JSON answer, tolerating markdown
// code fences around it.
func parseClassification(text string) (*decision.Classification, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var cj classificationJSON
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &cj); err != nil {
		return nil, fmt.Errorf("failed to decode classification: %w", err)
	}
	if cj.ConfidenceScore == nil {
		return nil, errors.New("classification without confidenceScore")
	}
	if *cj.ConfidenceScore < 0 || *cj.ConfidenceScore > 1 {
		return nil, fmt.Errorf("confidenceScore %v out of range", *cj.ConfidenceScore)
	}
	if strings.TrimSpace(cj.Category) == "" {
		return nil, errors.New("classification without category")
	}

	return &decision.Classification{
		Category:           cj.Category,
		Severity:           cj.Severity,
		Priority:           cj.Priority,
		ConfidenceScore:    *cj.ConfidenceScore,
		AuthenticityStatus: cj.AuthenticityStatus,
		Reasoning:          cj.Reasoning,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
