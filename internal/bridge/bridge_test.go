package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	mu           sync.Mutex
	translations []domain.TranslationRecord
	memos        []domain.VoiceMemo
	feedback     []domain.FeedbackRecord
	failNext     int
	started      chan struct{}
	release      chan struct{}
	waitCtx      bool
}

func (w *fakeWriter) begin(ctx context.Context) error {
	if w.started != nil {
		w.started <- struct{}{}
	}
	if w.release != nil {
		<-w.release
	}
	if w.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failNext > 0 {
		w.failNext--
		return errors.New("permission denied")
	}
	return nil
}

func (w *fakeWriter) AddTranslation(ctx context.Context, uid string, rec domain.TranslationRecord) (string, error) {
	if err := w.begin(ctx); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.translations = append(w.translations, rec)
	return "t1", nil
}

func (w *fakeWriter) AddVoiceMemo(ctx context.Context, uid string, memo domain.VoiceMemo) (string, error) {
	if err := w.begin(ctx); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.memos = append(w.memos, memo)
	return "m1", nil
}

func (w *fakeWriter) AddFeedback(ctx context.Context, rec domain.FeedbackRecord) (string, error) {
	if err := w.begin(ctx); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.feedback = append(w.feedback, rec)
	return "f1", nil
}

func (w *fakeWriter) translationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.translations)
}

type chanNotifier chan ports.Notification

func (n chanNotifier) Notify(_ context.Context, note ports.Notification) {
	n <- note
}

var (
	session1 = action.Caller{UserID: "alice", SessionID: "s1"}
	session2 = action.Caller{UserID: "alice", SessionID: "s2"}
	hola     = domain.TranslationRecord{SourceText: "Hello", TranslatedText: "Hola", SourceLang: "english", TargetLang: "spanish"}
)

func closeBridge(t *testing.T, b *Bridge) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, b.Close(ctx))
}

func TestBridge_SkipsIdenticalResultInSession(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, nil, Config{})

	b.SubmitTranslation(context.Background(), session1, hola, true)
	b.SubmitTranslation(context.Background(), session1, hola, true)
	closeBridge(t, b)

	assert.Equal(t, 1, w.translationCount())
}

func (b *Bridge) rememberedSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.last)
}

func TestBridge_ForgetsIdleSessions(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, nil, Config{SessionTTL: time.Minute})
	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	b.SubmitTranslation(context.Background(), session1, hola, true)
	now = now.Add(2 * time.Minute)
	b.SubmitTranslation(context.Background(), session2, hola, true)
	assert.Equal(t, 1, b.rememberedSessions())

	// session1 was forgotten, so the same result is written again
	b.SubmitTranslation(context.Background(), session1, hola, true)
	closeBridge(t, b)

	assert.Equal(t, 3, w.translationCount())
}

func TestBridge_CapsRememberedSessions(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, nil, Config{QueueSize: 2000, MaxSessions: 100})

	for i := 0; i < 1000; i++ {
		c := action.Caller{UserID: "alice", SessionID: fmt.Sprintf("session-%d", i)}
		b.SubmitTranslation(context.Background(), c, hola, true)
		require.LessOrEqual(t, b.rememberedSessions(), 100)
	}
	closeBridge(t, b)

	assert.Equal(t, 1000, w.translationCount())
}

func TestBridge_DedupScope(t *testing.T) {
	tests := []struct {
		name   string
		second action.Caller
		rec    domain.TranslationRecord
		audio  bool
		want   int
	}{
		{name: "other session", second: session2, rec: hola, audio: true, want: 2},
		{name: "audio presence differs", second: session1, rec: hola, audio: false, want: 2},
		{name: "different text", second: session1, rec: domain.TranslationRecord{SourceText: "Bye", TranslatedText: "Adiós"}, audio: true, want: 2},
		{name: "same result", second: session1, rec: hola, audio: true, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			b := New(w, nil, Config{})

			b.SubmitTranslation(context.Background(), session1, hola, true)
			b.SubmitTranslation(context.Background(), tt.second, tt.rec, tt.audio)
			closeBridge(t, b)

			assert.Equal(t, tt.want, w.translationCount())
		})
	}
}

func TestBridge_FailureNotifiesAndAllowsRetry(t *testing.T) {
	w := &fakeWriter{failNext: 1}
	notes := make(chanNotifier, 4)
	b := New(w, notes, Config{Workers: 1})

	b.SubmitTranslation(context.Background(), session1, hola, false)

	select {
	case n := <-notes:
		assert.Equal(t, "alice", n.UserID)
		assert.Equal(t, ports.LevelError, n.Level)
		assert.Equal(t, string(domain.ErrorKindPersistence), n.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no failure notification")
	}

	// the failed write cleared the fingerprint
	b.SubmitTranslation(context.Background(), session1, hola, false)
	closeBridge(t, b)

	assert.Equal(t, 1, w.translationCount())
}

func TestBridge_QueueFull(t *testing.T) {
	w := &fakeWriter{started: make(chan struct{}, 1), release: make(chan struct{})}
	notes := make(chanNotifier, 4)
	b := New(w, notes, Config{Workers: 1, QueueSize: 1})

	first := domain.TranslationRecord{SourceText: "one", TranslatedText: "uno"}
	second := domain.TranslationRecord{SourceText: "two", TranslatedText: "dos"}
	third := domain.TranslationRecord{SourceText: "three", TranslatedText: "tres"}

	b.SubmitTranslation(context.Background(), session1, first, false)
	<-w.started // the worker holds the first job

	b.SubmitTranslation(context.Background(), session2, second, false)
	ok := b.Submit(context.Background(), "s3", "alice", KindTranslation,
		Fingerprint(KindTranslation, third.SourceText, third.TranslatedText, false),
		func(ctx context.Context) error { return nil })
	assert.False(t, ok)

	select {
	case n := <-notes:
		assert.Equal(t, string(domain.ErrorKindPersistence), n.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no queue-full notification")
	}

	go func() {
		for range w.started {
		}
	}()
	close(w.release)
	closeBridge(t, b)
	close(w.started)

	assert.Equal(t, 2, w.translationCount())
}

func TestBridge_WriteTimeout(t *testing.T) {
	w := &fakeWriter{waitCtx: true}
	notes := make(chanNotifier, 1)
	b := New(w, notes, Config{WriteTimeout: 20 * time.Millisecond})

	b.SubmitTranslation(context.Background(), session1, hola, false)

	select {
	case n := <-notes:
		assert.Equal(t, "alice", n.UserID)
	case <-time.After(5 * time.Second):
		t.Fatal("write did not time out")
	}
	closeBridge(t, b)
}

func TestBridge_DetachedFromRequestContext(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, nil, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.SubmitTranslation(ctx, session1, hola, false)
	closeBridge(t, b)

	assert.Equal(t, 1, w.translationCount())
}

func TestBridge_SubmitAfterClose(t *testing.T) {
	w := &fakeWriter{}
	notes := make(chanNotifier, 1)
	b := New(w, notes, Config{})
	closeBridge(t, b)

	ok := b.SubmitVoiceMemo(context.Background(), session1, domain.VoiceMemo{OriginalText: "a", TranslatedText: "b"}, false)
	assert.False(t, ok)
	n := <-notes
	assert.Equal(t, "Could not save the voice memo.", n.Message)

	// closing twice is harmless
	assert.NoError(t, b.Close(context.Background()))
}

func TestBridge_MemosAndFeedback(t *testing.T) {
	w := &fakeWriter{}
	b := New(w, nil, Config{})

	memo := domain.VoiceMemo{OriginalText: "Good morning", TranslatedText: "Buenos días", SourceLang: "english", TargetLang: "spanish"}
	assert.True(t, b.SubmitVoiceMemo(context.Background(), session1, memo, true))
	assert.False(t, b.SubmitVoiceMemo(context.Background(), session1, memo, true))

	fb := domain.FeedbackRecord{SourceText: "Hello", OriginalTranslatedText: "Hola", UserCorrectedText: "¡Hola!"}
	assert.True(t, b.SubmitFeedback(context.Background(), session1, fb))
	closeBridge(t, b)

	require.Len(t, w.memos, 1)
	require.Len(t, w.feedback, 1)
	assert.Equal(t, "alice", w.feedback[0].UserID)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint(KindTranslation, "Hello", "Hola", true)
	assert.Equal(t, a, Fingerprint(KindTranslation, "Hello", "Hola", true))
	assert.NotEqual(t, a, Fingerprint(KindTranslation, "Hello", "Hola", false))
	assert.NotEqual(t, a, Fingerprint(KindVoiceMemo, "Hello", "Hola", true))
	// field boundaries are unambiguous
	assert.NotEqual(t, Fingerprint(KindTranslation, "ab", "c", false), Fingerprint(KindTranslation, "a", "bc", false))
	assert.Len(t, a, 64)
}
