package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"civic-complaint-system/pkg/middleware"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiServer(t *testing.T, status int, text string, inspect func(r *http.Request, body geminiRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body geminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(r, body)
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			fmt.Fprint(w, `{"error":{"code":`+fmt.Sprint(status)+`,"message":"boom"}}`)
			return
		}
		resp := map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{"content": map[string]interface{}{
					"parts": []interface{}{map[string]interface{}{"text": text}},
				}},
			},
		}
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify(t *testing.T) {
	answer := "```json\n" + `{"category":"Pothole","severity":"high","priority":"high","confidenceScore":0.91,"authenticityStatus":"real","reasoning":"Visible crater."}` + "\n```"
	srv := geminiServer(t, http.StatusOK, answer, func(r *http.Request, body geminiRequest) {
		assert.Contains(t, r.URL.Path, "/models/test-model:generateContent")
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery, "key must not travel in the URL")
		if assert.Len(t, body.Contents, 1) && assert.Len(t, body.Contents[0].Parts, 2, "text + inline image") {
			assert.Equal(t, "image/png", body.Contents[0].Parts[1].InlineData.MimeType)
		}
		if assert.NotNil(t, body.GenerationConfig) {
			assert.Equal(t, "application/json", body.GenerationConfig.ResponseMimeType)
		}
	})

	g := NewGemini("k", "test-model").WithBaseURL(srv.URL)
	c, err := g.Classify(context.Background(), Payload{
		Description:   "Huge pothole on Main St",
		Image:         []byte{0x89, 0x50},
		ImageMIMEType: "image/png",
	})
	require.NoError(t, err)
	assert.Equal(t, "Pothole", c.Category, "raw payload is kept verbatim")
	assert.Equal(t, 0.91, c.ConfidenceScore)
	assert.Equal(t, "Visible crater.", c.Reasoning)
}

func TestClassifyErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		text   string
	}{
		{"rate limited", http.StatusTooManyRequests, ""},
		{"server error", http.StatusInternalServerError, ""},
		{"not json", http.StatusOK, "I think it's a pothole"},
		{"missing confidence", http.StatusOK, `{"category":"pothole"}`},
		{"confidence out of range", http.StatusOK, `{"category":"pothole","confidenceScore":1.5}`},
		{"missing category", http.StatusOK, `{"confidenceScore":0.5}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := geminiServer(t, tc.status, tc.text, nil)
			_, err := NewGemini("k", "").WithBaseURL(srv.URL).Classify(context.Background(), Payload{Description: "x"})
			assert.Error(t, err)
		})
	}

	srv := geminiServer(t, http.StatusTooManyRequests, "", nil)
	_, err := NewGemini("k", "").WithBaseURL(srv.URL).Classify(context.Background(), Payload{})
	assert.True(t, IsRateLimited(err))
}

func TestClassifyHonoursContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := NewGemini("k", "").WithBaseURL(srv.URL).Classify(ctx, Payload{Description: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExplain(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, "Unattended for three days, this hazard warrants escalation.\nExtra line.", func(r *http.Request, body geminiRequest) {
		prompt := body.Contents[0].Parts[0].Text
		assert.True(t, strings.Contains(prompt, "public_works"))
		assert.True(t, strings.Contains(prompt, "72h0m0s"))
	})

	s, err := NewGemini("k", "").WithBaseURL(srv.URL).Explain(context.Background(), ExplainRequest{
		Department: "public_works", Severity: "high", ElapsedSeconds: 72 * 3600, Status: "sla_warning",
	})
	require.NoError(t, err)
	assert.Equal(t, "Unattended for three days, this hazard warrants escalation.", s)

	blank := geminiServer(t, http.StatusOK, "   ", nil)
	_, err = NewGemini("k", "").WithBaseURL(blank.URL).Explain(context.Background(), ExplainRequest{})
	assert.Error(t, err)
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Classify(context.Background(), Payload{})
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = Unavailable{}.Explain(context.Background(), ExplainRequest{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClassifyErrorClasses(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, "I think it's a pothole", nil)
	_, err := NewGemini("k", "").WithBaseURL(srv.URL).Classify(context.Background(), Payload{Description: "x"})
	assert.ErrorIs(t, err, ErrInvalidAnswer)

	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()
	_, err = NewGemini("SECRET-KEY-123", "").WithBaseURL(closed.URL).Classify(context.Background(), Payload{Description: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
}

func TestClassifyForwardsTraceID(t *testing.T) {
	srv := geminiServer(t, http.StatusOK, `{"category":"Pothole","confidenceScore":0.9}`, func(r *http.Request, _ geminiRequest) {
		assert.Equal(t, "trace-42", r.Header.Get("X-Trace-ID"))
	})
	ctx := middleware.WithTraceID(context.Background(), "trace-42")
	_, err := NewGemini("k", "").WithBaseURL(srv.URL).Classify(ctx, Payload{Description: "x"})
	require.NoError(t, err)
}
