package sender_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcatullo/talazo-kg/internal/dispatch"
	"github.com/rcatullo/talazo-kg/internal/sender"
)

const testCredential = "sk-test-0123456789"

func newTestSender(t *testing.T, handler http.HandlerFunc, mutate ...func(*sender.Config)) *sender.HTTPSender {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := sender.Config{
		URL:        srv.URL + "/v1/chat/completions",
		Credential: testCredential,
		Timeout:    2 * time.Second,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := sender.New(cfg, nil)
	require.NoError(t, err)
	return s
}

func testItem() dispatch.WorkItem {
	return dispatch.WorkItem{
		Seq:     7,
		Payload: json.RawMessage(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`),
		Cost:    25,
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	var gotAuth, gotContentType, gotCustom string
	var gotBody []byte
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotCustom = r.Header.Get("OpenAI-Organization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","choices":[{"message":{"content":"hello"}}]}`))
	}, func(cfg *sender.Config) {
		cfg.Headers = map[string]string{"OpenAI-Organization": "org-1"}
	})

	out := s.Send(context.Background(), testItem())

	require.Equal(t, dispatch.OutcomeSuccess, out.Kind)
	assert.JSONEq(t, `{"id":"chatcmpl-1","choices":[{"message":{"content":"hello"}}]}`, string(out.Response))
	assert.Nil(t, out.Err)
	assert.Equal(t, "Bearer "+testCredential, gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "org-1", gotCustom)
	assert.JSONEq(t, string(testItem().Payload), string(gotBody))
}

func TestSend_CustomAuthHeader(t *testing.T) {
	t.Parallel()

	var gotKey, gotAuth string
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}, func(cfg *sender.Config) {
		cfg.AuthHeader = "X-Api-Key"
		cfg.AuthScheme = "-"
	})

	out := s.Send(context.Background(), testItem())
	require.Equal(t, dispatch.OutcomeSuccess, out.Kind)
	assert.Equal(t, testCredential, gotKey)
	assert.Empty(t, gotAuth)
}

func TestSend_Classification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		header      map[string]string
		body        string
		status      int
		wantKind    dispatch.OutcomeKind
		wantErrKind dispatch.ErrorKind
		wantRetry   time.Duration
		rateLimited bool
	}{
		{
			name:        "429 with retry-after",
			status:      429,
			header:      map[string]string{"Retry-After": "3"},
			body:        `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindRateLimit,
			wantRetry:   3 * time.Second,
			rateLimited: true,
		},
		{
			name:        "429 with retry-after-ms",
			status:      429,
			header:      map[string]string{"Retry-After-Ms": "250"},
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindRateLimit,
			wantRetry:   250 * time.Millisecond,
			rateLimited: true,
		},
		{
			name:        "500",
			status:      500,
			body:        `{"error":{"message":"The server had an error","type":"server_error"}}`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindServer,
		},
		{
			name:        "529 overloaded",
			status:      529,
			body:        `{"error":{"type":"overloaded_error","message":"Overloaded"}}`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindRateLimit,
			rateLimited: true,
		},
		{
			name:        "408",
			status:      408,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindServer,
		},
		{
			name:        "401",
			status:      401,
			body:        `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantKind:    dispatch.OutcomeTerminal,
			wantErrKind: dispatch.KindAuth,
		},
		{
			name:        "403",
			status:      403,
			wantKind:    dispatch.OutcomeTerminal,
			wantErrKind: dispatch.KindAuth,
		},
		{
			name:        "400",
			status:      400,
			body:        `{"error":{"message":"'messages' is a required property","type":"invalid_request_error"}}`,
			wantKind:    dispatch.OutcomeTerminal,
			wantErrKind: dispatch.KindClient,
		},
		{
			name:        "200 with invalid_request_error",
			status:      200,
			body:        `{"error":{"message":"bad","type":"invalid_request_error"}}`,
			wantKind:    dispatch.OutcomeTerminal,
			wantErrKind: dispatch.KindAPI,
		},
		{
			name:        "200 with rate limit error",
			status:      200,
			body:        `{"error":{"message":"Rate limit reached for requests","type":"requests"}}`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindRateLimit,
			rateLimited: true,
		},
		{
			name:        "200 with other error",
			status:      200,
			body:        `{"error":{"message":"The model is currently warming up","type":"server_error"}}`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindAPI,
		},
		{
			name:        "200 with malformed body",
			status:      200,
			body:        `{"choices":[`,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindDecode,
		},
		{
			name:        "200 with empty body",
			status:      200,
			wantKind:    dispatch.OutcomeRetryable,
			wantErrKind: dispatch.KindDecode,
		},
		{
			name:     "200 with null error",
			status:   200,
			body:     `{"error":null,"data":[]}`,
			wantKind: dispatch.OutcomeSuccess,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			out := s.Send(context.Background(), testItem())

			require.Equal(t, tt.wantKind, out.Kind, "outcome kind")
			assert.Equal(t, tt.rateLimited, out.RateLimited)
			assert.Equal(t, tt.wantRetry, out.RetryAfter)
			if tt.wantKind == dispatch.OutcomeSuccess {
				assert.Nil(t, out.Err)
				return
			}
			require.NotNil(t, out.Err)
			assert.Equal(t, tt.wantErrKind, out.Err.Kind)
			assert.Equal(t, tt.status, out.Err.Status)
			assert.NotEmpty(t, out.Err.Message)
		})
	}
}

func TestSend_ErrorDetailKept(t *testing.T) {
	t.Parallel()

	s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"context_length_exceeded","type":"invalid_request_error","param":"messages"}}`))
	})

	out := s.Send(context.Background(), testItem())
	require.NotNil(t, out.Err)
	assert.Equal(t, "context_length_exceeded", out.Err.Message)
	assert.JSONEq(t,
		`{"message":"context_length_exceeded","type":"invalid_request_error","param":"messages"}`,
		string(out.Err.Detail))
}

func TestSend_LongMessageCutOnRuneBoundary(t *testing.T) {
	t.Parallel()

	body := "a" + strings.Repeat("é", 400)
	s := newTestSender(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	out := s.Send(context.Background(), testItem())
	require.NotNil(t, out.Err)
	msg := out.Err.Message
	assert.True(t, utf8.ValidString(msg), msg)
	assert.True(t, strings.HasSuffix(msg, "..."))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(msg, "...")))
	assert.LessOrEqual(t, len(msg), 512+len("..."))

	encoded, err := json.Marshal(out.Err)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "\\ufffd")
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	s := newTestSender(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *sender.Config) {
		cfg.Timeout = 100 * time.Millisecond
	})
	defer close(release)

	out := s.Send(context.Background(), testItem())

	require.Equal(t, dispatch.OutcomeRetryable, out.Kind)
	assert.Equal(t, dispatch.KindTimeout, out.Err.Kind)
	assert.False(t, out.RateLimited)
}

func TestSend_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s, err := sender.New(sender.Config{URL: url, Credential: testCredential, Timeout: time.Second}, nil)
	require.NoError(t, err)

	out := s.Send(context.Background(), testItem())

	require.Equal(t, dispatch.OutcomeRetryable, out.Kind)
	assert.Equal(t, dispatch.KindTransport, out.Err.Kind)
	assert.Zero(t, out.Err.Status)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr error
		name    string
		cfg     sender.Config
	}{
		{
			name:    "missing credential",
			cfg:     sender.Config{URL: "https://api.openai.com/v1/chat/completions"},
			wantErr: sender.ErrMissingCredential,
		},
		{
			name:    "credential with newline",
			cfg:     sender.Config{URL: "https://api.openai.com/v1/chat/completions", Credential: "sk-abc\n"},
			wantErr: sender.ErrInvalidCredential,
		},
		{
			name:    "credential with space",
			cfg:     sender.Config{URL: "https://api.openai.com/v1/chat/completions", Credential: "sk abc"},
			wantErr: sender.ErrInvalidCredential,
		},
		{
			name:    "relative url",
			cfg:     sender.Config{URL: "/v1/chat/completions", Credential: testCredential},
			wantErr: sender.ErrInvalidURL,
		},
		{
			name:    "unsupported scheme",
			cfg:     sender.Config{URL: "ftp://example.com/upload", Credential: testCredential},
			wantErr: sender.ErrInvalidURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := sender.New(tt.cfg, nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateCredential(t *testing.T) {
	t.Parallel()

	require.NoError(t, sender.ValidateCredential("sk-proj-AbC123_-xyz"))
	require.ErrorIs(t, sender.ValidateCredential(""), sender.ErrMissingCredential)
	require.ErrorIs(t, sender.ValidateCredential("sk-\tabc"), sender.ErrInvalidCredential)
	require.ErrorIs(t, sender.ValidateCredential("sk-\x00abc"), sender.ErrInvalidCredential)
}
