package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/auth"
	"github.com/tjfontaine/polyglot-lingua/internal/bridge"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
	"github.com/tjfontaine/polyglot-lingua/internal/flow"
	"github.com/tjfontaine/polyglot-lingua/internal/model/modeltest"
	"github.com/tjfontaine/polyglot-lingua/internal/pkg/config"
	"github.com/tjfontaine/polyglot-lingua/internal/prompt"
	"github.com/tjfontaine/polyglot-lingua/internal/records"
	"github.com/tjfontaine/polyglot-lingua/internal/storage/memory"
	"github.com/tjfontaine/polyglot-lingua/internal/telemetry"
)

const (
	aliceKey = "alice-key"
	rootKey  = "root-key"
)

type testEnv struct {
	ts            *httptest.Server
	model         *modeltest.Fake
	notifications *Notifications
}

func newTestEnv(t *testing.T, model *modeltest.Fake) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lib, err := prompt.LoadLibrary()
	require.NoError(t, err)
	exec, err := flow.NewExecutor(model, lib)
	require.NoError(t, err)

	metrics := telemetry.NewMetrics()
	notes := NewNotifications(logger)
	rec := records.New(memory.New())
	br := bridge.New(rec, notes, bridge.Config{}, bridge.WithLogger(logger))
	actions := action.New(exec, action.WithHistorySink(br), action.WithLogger(logger))

	users := auth.NewAuthenticator([]config.UserConfig{
		{ID: "alice", KeyHash: auth.HashAPIKey(aliceKey)},
		{ID: "root", KeyHash: auth.HashAPIKey(rootKey), Admin: true},
	})

	s := New(0, logger, Deps{
		Auth:           users,
		Flows:          exec,
		Actions:        actions,
		Records:        rec,
		Bridge:         br,
		Notifications:  notes,
		Metrics:        metrics,
		RequestTimeout: 10 * time.Second,
	})
	ts := httptest.NewServer(s.Router)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		ts.Close()
		_ = br.Close(ctx)
	})
	return &testEnv{ts: ts, model: model, notifications: notes}
}

func (e *testEnv) do(t *testing.T, method, path, key, body string) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, r)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func errorKind(body map[string]any) string {
	detail, _ := body["error"].(map[string]any)
	kind, _ := detail["kind"].(string)
	return kind
}

func violationPaths(body map[string]any) []string {
	detail, _ := body["error"].(map[string]any)
	vs, _ := detail["violations"].([]any)
	var paths []string
	for _, v := range vs {
		paths = append(paths, v.(map[string]any)["path"].(string))
	}
	return paths
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	resp, body := env.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestV1RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	for _, key := range []string{"", "wrong-key"} {
		resp, body := env.do(t, "GET", "/v1/flows", key, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", errorKind(body))
	}
}

func TestFlowEndpoint(t *testing.T) {
	model := modeltest.New().On(flow.TranslateText, modeltest.Text(`{"translatedText":"Hola","extra":"dropped"}`))
	env := newTestEnv(t, model)

	resp, body := env.do(t, "GET", "/v1/flows", aliceKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["flows"], flow.TranslateText)

	t.Run("success", func(t *testing.T) {
		resp, body := env.do(t, "POST", "/v1/flows/translateText", aliceKey,
			`{"text":"Hello","sourceLanguage":"english","targetLanguage":"spanish"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, flow.TranslateText, body["flow"])
		assert.Equal(t, map[string]any{"translatedText": "Hola"}, body["output"])
	})

	t.Run("missing field", func(t *testing.T) {
		calls := model.Calls(flow.TranslateText)
		resp, body := env.do(t, "POST", "/v1/flows/translateText", aliceKey,
			`{"sourceLanguage":"english","targetLanguage":"spanish"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, []string{"text"}, violationPaths(body))
		assert.Equal(t, calls, model.Calls(flow.TranslateText))
	})

	t.Run("malformed body", func(t *testing.T) {
		resp, body := env.do(t, "POST", "/v1/flows/translateText", aliceKey, `{"text":`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, []string{"$"}, violationPaths(body))
	})

	t.Run("unknown flow", func(t *testing.T) {
		resp, body := env.do(t, "POST", "/v1/flows/nope", aliceKey, `{}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "not_found", errorKind(body))
	})
}

func TestFlowEndpoint_HidesModelOutput(t *testing.T) {
	model := modeltest.New().On(flow.DetectFauxPas,
		modeltest.Text(`{"isFauxPas":true,"severity":"RAW-MODEL-SEVERITY"}`))
	env := newTestEnv(t, model)

	resp, body := env.do(t, "POST", "/v1/flows/detectFauxPas", aliceKey,
		`{"text":"Is it rude to tip in Tokyo?"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "model_contract_violation", errorKind(body))
	assert.Empty(t, violationPaths(body))

	raw, err := json.Marshal(body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "RAW-MODEL-SEVERITY")
	assert.Contains(t, string(raw), "the model returned an unexpected response")
}

func TestSpeechLocales(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	resp, body := env.do(t, "GET", "/v1/speech/locales?language=Hindi", aliceKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hi-IN", body["locale"])

	_, body = env.do(t, "GET", "/v1/speech/locales?language=klingon", aliceKey, "")
	assert.Equal(t, "en-US", body["locale"])

	_, body = env.do(t, "GET", "/v1/speech/locales", aliceKey, "")
	table, _ := body["locales"].(map[string]any)
	assert.Equal(t, "ja-JP", table["japanese"])
	assert.Equal(t, "en-US", body["default"])
}

func TestTranslateActionRecordsHistory(t *testing.T) {
	model := modeltest.New().
		On(flow.TranslateText, modeltest.Text(`{"translatedText":"Hola","culturalInsights":""}`)).
		On(flow.TextToSpeech, modeltest.Reply{Audio: &ports.Audio{MIMEType: "audio/wav", Data: []byte("RIFF....WAVE")}})
	env := newTestEnv(t, model)

	resp, body := env.do(t, "POST", "/v1/actions/translate", aliceKey,
		`{"text":"Hello","sourceLanguage":"english","targetLanguage":"spanish"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hola", body["translatedText"])
	assert.NotEmpty(t, body["audioData"])

	var list []any
	require.Eventually(t, func() bool {
		_, body := env.do(t, "GET", "/v1/translations", aliceKey, "")
		list, _ = body["translations"].([]any)
		return len(list) == 1
	}, 5*time.Second, 20*time.Millisecond)

	item := list[0].(map[string]any)
	id := item["id"].(string)
	assert.NotEmpty(t, id)
	assert.Equal(t, "Hola", item["record"].(map[string]any)["translatedText"])

	// other users do not see it
	_, body = env.do(t, "GET", "/v1/translations", rootKey, "")
	assert.Empty(t, body["translations"])

	resp, _ = env.do(t, "DELETE", "/v1/translations/"+id, aliceKey, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	_, body = env.do(t, "GET", "/v1/translations", aliceKey, "")
	assert.Empty(t, body["translations"])
}

func TestListRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	resp, body := env.do(t, "GET", "/v1/memos?limit=-1", aliceKey, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []string{"$"}, violationPaths(body))
}

func TestScriptureIsPremium(t *testing.T) {
	model := modeltest.New().On(flow.ScriptureTutor,
		modeltest.Text(`{"answer":"Blessed are the meek.","references":["Matthew 5:5"]}`))
	env := newTestEnv(t, model)
	question := `{"question":"Who inherits the earth?"}`

	resp, body := env.do(t, "POST", "/v1/actions/scripture", aliceKey, question)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, action.SubscriptionRequired, body["reply"])
	assert.Zero(t, model.Calls(flow.ScriptureTutor))

	resp, body = env.do(t, "POST", "/v1/actions/scripture", rootKey, question)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Blessed are the meek.", body["reply"])
	assert.Equal(t, []any{"Matthew 5:5"}, body["references"])
}

func TestProfile(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	resp, body := env.do(t, "GET", "/v1/profile", aliceKey, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"admin": false, "subscribed": false}, body["capabilities"])

	resp, body = env.do(t, "PATCH", "/v1/profile", aliceKey, `{"subscribed":true}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", errorKind(body))

	resp, body = env.do(t, "PATCH", "/v1/profile", aliceKey, `{"displayName":"Alice","learningLanguages":["es","fr"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	profile := body["profile"].(map[string]any)
	assert.Equal(t, "Alice", profile["displayName"])
	assert.Equal(t, []any{"es", "fr"}, profile["learningLanguages"])

	resp, body = env.do(t, "PATCH", "/v1/profile", rootKey, `{"subscribed":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]any{"admin": true, "subscribed": true}, body["capabilities"])
}

func TestMemos(t *testing.T) {
	env := newTestEnv(t, modeltest.New())
	memo := `{"originalText":"Good night","translatedText":"Buenas noches","sourceLang":"english","targetLang":"spanish"}`

	resp, body := env.do(t, "POST", "/v1/memos", aliceKey, memo)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["queued"])

	// the same memo again in the same session is skipped
	_, body = env.do(t, "POST", "/v1/memos", aliceKey, memo)
	assert.Equal(t, false, body["queued"])

	var list []any
	require.Eventually(t, func() bool {
		_, body := env.do(t, "GET", "/v1/memos", aliceKey, "")
		list, _ = body["memos"].([]any)
		return len(list) == 1
	}, 5*time.Second, 20*time.Millisecond)

	item := list[0].(map[string]any)
	assert.Equal(t, "Buenas noches", item["record"].(map[string]any)["translatedText"])

	resp, _ = env.do(t, "DELETE", "/v1/memos/"+item["id"].(string), aliceKey, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = env.do(t, "POST", "/v1/memos", aliceKey, `{"originalText":"Hi"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []string{"translatedText"}, violationPaths(body))
}

func TestFeedback(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	resp, body := env.do(t, "POST", "/v1/feedback", aliceKey, `{"originalTranslatedText":"Hola"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []string{"sourceText", "userCorrectedText"}, violationPaths(body))

	resp, body = env.do(t, "POST", "/v1/feedback", aliceKey,
		`{"sourceText":"Hello","originalTranslatedText":"Hola","userCorrectedText":"¡Hola!"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["queued"])
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", env.ts.URL+"/v1/notifications", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+aliceKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return env.notifications.Subscribers("alice") == 1 },
		5*time.Second, 10*time.Millisecond)

	env.notifications.Notify(context.Background(), ports.Notification{UserID: "root", Level: ports.LevelInfo, Message: "not for alice"})
	env.notifications.Notify(context.Background(), ports.Notification{
		UserID:  "alice",
		Level:   ports.LevelError,
		Kind:    "voice_memo",
		Message: "Could not save your voice memo.",
	})

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event: notification", lines[0])

	var n ports.Notification
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[1], "data: ")), &n))
	assert.Equal(t, "Could not save your voice memo.", n.Message)
	assert.Equal(t, ports.LevelError, n.Level)

	cancel()
	require.Eventually(t, func() bool { return env.notifications.Subscribers("alice") == 0 },
		5*time.Second, 10*time.Millisecond)
}

// nextEvent reads one SSE frame, skipping keep-alive comments.
func nextEvent(t *testing.T, scanner *bufio.Scanner) (event, data string) {
	t.Helper()
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event != "" {
				return event, data
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before a complete event: %v", scanner.Err())
	return "", ""
}

func TestTranslationStream(t *testing.T) {
	model := modeltest.New().
		On(flow.TranslateText, modeltest.Text(`{"translatedText":"Hola","culturalInsights":""}`)).
		On(flow.TextToSpeech, modeltest.Reply{Audio: &ports.Audio{MIMEType: "audio/wav", Data: []byte("RIFF....WAVE")}})
	env := newTestEnv(t, model)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", env.ts.URL+"/v1/translations/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+aliceKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	event, data := nextEvent(t, scanner)
	assert.Equal(t, "translations", event)
	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(data), &items))
	assert.Empty(t, items)

	resp2, body := env.do(t, "POST", "/v1/actions/translate", aliceKey,
		`{"text":"Hello","sourceLanguage":"english","targetLanguage":"spanish"}`)
	require.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "Hola", body["translatedText"])

	event, data = nextEvent(t, scanner)
	assert.Equal(t, "translations", event)
	require.NoError(t, json.Unmarshal([]byte(data), &items))
	require.Len(t, items, 1)
	assert.NotEmpty(t, items[0]["id"])
	record := items[0]["record"].(map[string]any)
	assert.Equal(t, "Hello", record["sourceText"])
	assert.Equal(t, "Hola", record["translatedText"])

	cancel()
}

func TestMetricsCountRoutes(t *testing.T) {
	env := newTestEnv(t, modeltest.New())

	env.do(t, "GET", "/healthz", "", "")
	env.do(t, "GET", "/v1/flows", "", "")

	resp, err := http.Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(raw)
	assert.Contains(t, text, `lingua_http_requests_total{code="2xx",route="/healthz"} 1`)
	assert.Contains(t, text, `lingua_http_requests_total{code="4xx"`)
}
