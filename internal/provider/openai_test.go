package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"openbridge/internal/config"
	"openbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAI(OpenAIConfig{
		APIKey:     "sk-test",
		APIBase:    srv.URL + "/v1",
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Logger:     testLogger(),
	})
}

func TestCreateResponse_SendsRequestAndDecodes(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"resp_1","status":"completed","output":[
			{"type":"message","role":"assistant","content":[{"type":"output_text","text":"Hello"}]},
			{"type":"function_call","call_id":"call_1","name":"generate_spreadsheet","arguments":"{}"}
		],"usage":{"input_tokens":3,"output_tokens":2,"total_tokens":5}}`)
	})

	resp, err := client.CreateResponse(context.Background(), domain.ResponseRequest{
		Model:              "gpt-4.1",
		PreviousResponseID: "resp_0",
		Input:              []domain.InputItem{domain.FunctionCallOutput("call_0", "")},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4.1", got["model"])
	assert.Equal(t, "resp_0", got["previous_response_id"])
	input := got["input"].([]any)[0].(map[string]any)
	assert.Equal(t, "function_call_output", input["type"])
	assert.Equal(t, "", input["output"], "empty output must still be sent")

	assert.Equal(t, "resp_1", resp.ID)
	assert.Equal(t, "Hello", resp.Text())
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "call_1", resp.ToolCalls()[0].ID)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
	assert.NotEmpty(t, resp.Raw)
}

func TestCreateResponse_OmitsUnsetOptions(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"resp_1","output":[]}`)
	})

	_, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.NoError(t, err)
	for _, key := range []string{"previous_response_id", "temperature", "max_output_tokens", "reasoning", "include", "text", "tools"} {
		_, present := got[key]
		assert.False(t, present, "unexpected key %s", key)
	}
}

func TestCreateResponse_Unauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	})

	_, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.Contains(t, err.Error(), "bad key")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestCreateResponse_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"id":"resp_2","output":[]}`)
	})

	resp, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "resp_2", resp.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateResponse_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateResponse_BadRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequest))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUploadFile_Multipart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/files", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "user_data", r.FormValue("purpose"))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "cat.png", header.Filename)
		assert.Equal(t, "image/png", header.Header.Get("Content-Type"))
		assert.Equal(t, []byte{1, 2, 3}, data)
		_, _ = io.WriteString(w, `{"id":"file-abc","object":"file"}`)
	})

	id, err := client.UploadFile(context.Background(), domain.FileUpload{
		Name: "cat.png", MimeType: "image/png", Purpose: "user_data", Data: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "file-abc", id)
}

func TestUploadFile_EmptyID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})
	_, err := client.UploadFile(context.Background(), domain.FileUpload{Name: "a.png", Data: []byte{1}})
	require.Error(t, err)
}

func TestDeleteFile(t *testing.T) {
	var path, method string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path, method = r.URL.Path, r.Method
		_, _ = io.WriteString(w, `{"id":"file-abc","deleted":true}`)
	})

	require.NoError(t, client.DeleteFile(context.Background(), "file-abc"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/v1/files/file-abc", path)
}

func TestDeleteFile_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	err := client.DeleteFile(context.Background(), "file-missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequest))
}

func TestCreateResponse_NetworkErrorRetried(t *testing.T) {
	var calls atomic.Int32
	srv := dropFirstConn(t, &calls, `{"id":"resp_3","output":[]}`)
	client := NewOpenAI(OpenAIConfig{
		APIKey:     "sk-test",
		APIBase:    srv.URL,
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Logger:     testLogger(),
	})

	resp, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "resp_3", resp.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateResponse_CanceledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		cancel()
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.CreateResponse(ctx, domain.ResponseRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewLimiter(t *testing.T) {
	assert.Nil(t, newLimiter(0))
	assert.Nil(t, newLimiter(-5))

	l := newLimiter(120)
	require.NotNil(t, l)
	assert.InDelta(t, 2.0, float64(l.Limit()), 1e-9)
	assert.Equal(t, 120, l.Burst())

	assert.Equal(t, 1, newLimiter(0.5).Burst())
}

func TestCreateResponse_LimiterWaitHonorsContext(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `{"id":"resp_1","output":[]}`)
	}))
	t.Cleanup(srv.Close)
	client := NewOpenAI(OpenAIConfig{
		APIKey:            "sk-test",
		APIBase:           srv.URL,
		RequestsPerMinute: 1,
		Logger:            testLogger(),
	})

	_, err := client.CreateResponse(context.Background(), domain.ResponseRequest{Model: "m"})
	require.NoError(t, err)

	// The single token is spent; the next call cannot be admitted before the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.CreateResponse(ctx, domain.ResponseRequest{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewHTTPClient_SetsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		_, _ = io.WriteString(w, `{"id":"file-1","deleted":true}`)
	}))
	t.Cleanup(srv.Close)

	client := NewOpenAI(OpenAIConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	defer client.Close()
	require.NoError(t, client.DeleteFile(context.Background(), "file-1"))
	assert.Equal(t, UserAgent, ua)
	assert.Equal(t, config.DefaultTimeout, client.client.Timeout)
}

// dropFirstConn closes the connection of the first request without replying.
func dropFirstConn(t *testing.T, calls *atomic.Int32, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadFile_TransportErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := dropFirstConn(t, &calls, `{"id":"file-second"}`)
	client := NewOpenAI(OpenAIConfig{
		APIKey:     "sk-test",
		APIBase:    srv.URL,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Logger:     testLogger(),
	})

	_, err := client.UploadFile(context.Background(), domain.FileUpload{Name: "a.png", Purpose: "user_data", Data: []byte{1}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "the first upload may have been stored")
}

func TestUploadFile_ServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"file-ok"}`)
	})

	id, err := client.UploadFile(context.Background(), domain.FileUpload{Name: "a.png", Purpose: "user_data", Data: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, "file-ok", id)
	assert.Equal(t, int32(2), calls.Load())
}
