package server

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/polyglot-lingua/internal/action"
	"github.com/tjfontaine/polyglot-lingua/internal/auth"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/records"
	"github.com/tjfontaine/polyglot-lingua/internal/speech"
)

// SessionHeader names the client session used for write de-duplication.
// Requests without it share one session per user.
const SessionHeader = "X-Session-ID"

// caller resolves the request's user and capabilities. Subscription status
// comes from the stored profile; a profile read failure leaves it off.
func (s *Server) caller(r *http.Request) action.Caller {
	user := auth.UserFromContext(r.Context())
	c := action.Caller{UserID: user.ID, Caps: action.Capabilities{Admin: user.Admin}}

	c.SessionID = strings.TrimSpace(r.Header.Get(SessionHeader))
	if c.SessionID == "" {
		c.SessionID = "user:" + user.ID
	}

	if s.deps.Records != nil {
		profile, err := s.deps.Records.GetProfile(r.Context(), user.ID)
		if err != nil {
			s.logger.Warn("profile lookup failed",
				slog.String("user", user.ID),
				slog.String("error", err.Error()))
		}
		c.Caps.Subscribed = profile.Subscribed
	}
	return c
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"flows": s.deps.Flows.Names()})
}

// handleSpeechLocales returns the recognizer locale table, or the locale
// for one language when ?language= is given.
func (s *Server) handleSpeechLocales(w http.ResponseWriter, r *http.Request) {
	if lang := r.URL.Query().Get("language"); lang != "" {
		writeJSON(w, http.StatusOK, map[string]string{"language": lang, "locale": speech.Locale(lang)})
		return
	}
	table := make(map[string]string)
	for _, lang := range speech.Languages() {
		table[lang] = speech.Locale(lang)
	}
	writeJSON(w, http.StatusOK, map[string]any{"locales": table, "default": speech.DefaultLocale})
}

type flowResponse struct {
	Flow   string         `json:"flow"`
	Output map[string]any `json:"output"`
	Gated  bool           `json:"gated,omitempty"`
}

// handleFlow forwards a raw JSON object to the flow executor.
func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	AddLogField(r.Context(), "flow", name)

	var input map[string]any
	if err := decodeJSON(w, r, name, &input); err != nil {
		writeError(w, r, err)
		return
	}
	if input == nil {
		writeError(w, r, badBody(name, "body must be a JSON object"))
		return
	}

	inv := s.deps.Flows.Invoke(r.Context(), name, input)
	if inv.Err != nil {
		writeError(w, r, inv.Err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponse{Flow: name, Output: inv.Output, Gated: inv.Gated})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req action.TranslateRequest
	if err := decodeJSON(w, r, "translate", &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actions.Translate(r.Context(), s.caller(r), req))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req action.ChatRequest
	if err := decodeJSON(w, r, "chat", &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actions.Chat(r.Context(), s.caller(r), req))
}

func (s *Server) handleScripture(w http.ResponseWriter, r *http.Request) {
	var req action.TutorRequest
	if err := decodeJSON(w, r, "scripture", &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actions.Scripture(r.Context(), s.caller(r), req))
}

func (s *Server) handleLiveCall(w http.ResponseWriter, r *http.Request) {
	var req action.LiveCallRequest
	if err := decodeJSON(w, r, "live-call", &req); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Actions.LiveCall(r.Context(), s.caller(r), req))
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badBody("list", "limit must be a non-negative integer")
	}
	return n, nil
}

// first returns the first snapshot of a subscription and cancels it.
func first[T any](ctx context.Context, open func(context.Context) (<-chan records.Snapshot[T], error)) ([]T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := open(ctx)
	if err != nil {
		return nil, err
	}
	select {
	case snap, ok := <-ch:
		if !ok {
			return nil, ctx.Err()
		}
		return snap.Items, snap.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handleListTranslations(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid := auth.UserFromContext(r.Context()).ID
	items, err := first(r.Context(), func(ctx context.Context) (<-chan records.Snapshot[domain.TranslationRecord], error) {
		return s.deps.Records.SubscribeTranslations(ctx, uid, limit)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"translations": withIDs(items, func(t domain.TranslationRecord) string { return t.ID })})
}

// identified pairs a record with its id, which records keep out of their
// stored body.
type identified[T any] struct {
	ID     string `json:"id"`
	Record T      `json:"record"`
}

func withIDs[T any](items []T, id func(T) string) []identified[T] {
	out := make([]identified[T], len(items))
	for i, item := range items {
		out[i] = identified[T]{ID: id(item), Record: item}
	}
	return out
}

func (s *Server) handleTranslationStream(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid := auth.UserFromContext(r.Context()).ID

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	snapshots, err := s.deps.Records.SubscribeTranslations(ctx, uid, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if snap.Err != nil {
				AddError(r.Context(), snap.Err)
				_ = stream.send("error", errorDetail{Kind: "subscription_error", Message: "translation history is unavailable"})
				return
			}
			items := withIDs(snap.Items, func(t domain.TranslationRecord) string { return t.ID })
			if err := stream.send("translations", items); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-s.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleDeleteTranslation(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context()).ID
	if err := s.deps.Records.DeleteTranslation(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memoRequest struct {
	domain.VoiceMemo
	HasAudio bool `json:"hasAudio,omitempty"`
}

// handleCreateMemo queues the memo on the persistence bridge. The response
// reports whether it was queued; failures arrive as notifications.
func (s *Server) handleCreateMemo(w http.ResponseWriter, r *http.Request) {
	var req memoRequest
	if err := decodeJSON(w, r, "memo", &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := required("memo", map[string]string{
		"originalText":   req.OriginalText,
		"translatedText": req.TranslatedText,
	}); err != nil {
		writeError(w, r, err)
		return
	}

	queued := s.deps.Bridge.SubmitVoiceMemo(r.Context(), s.caller(r), req.VoiceMemo, req.HasAudio)
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

func (s *Server) handleListMemos(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	uid := auth.UserFromContext(r.Context()).ID
	items, err := first(r.Context(), func(ctx context.Context) (<-chan records.Snapshot[domain.VoiceMemo], error) {
		return s.deps.Records.SubscribeVoiceMemos(ctx, uid, limit)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memos": withIDs(items, func(m domain.VoiceMemo) string { return m.ID })})
}

func (s *Server) handleDeleteMemo(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context()).ID
	if err := s.deps.Records.DeleteVoiceMemo(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var rec domain.FeedbackRecord
	if err := decodeJSON(w, r, "feedback", &rec); err != nil {
		writeError(w, r, err)
		return
	}
	if err := required("feedback", map[string]string{
		"sourceText":        rec.SourceText,
		"userCorrectedText": rec.UserCorrectedText,
	}); err != nil {
		writeError(w, r, err)
		return
	}

	queued := s.deps.Bridge.SubmitFeedback(r.Context(), s.caller(r), rec)
	writeJSON(w, http.StatusAccepted, map[string]bool{"queued": queued})
}

type profileResponse struct {
	Profile      domain.Profile      `json:"profile"`
	Capabilities action.Capabilities `json:"capabilities"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context()).ID
	profile, err := s.deps.Records.GetProfile(r.Context(), uid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, profileResponse{
		Profile:      profile,
		Capabilities: action.Capabilities{Admin: user.Admin, Subscribed: profile.Subscribed},
	})
}

// handlePatchProfile merges profile fields. Only admins may change the
// subscription flag.
func (s *Server) handlePatchProfile(w http.ResponseWriter, r *http.Request) {
	var u records.ProfileUpdate
	if err := decodeJSON(w, r, "profile", &u); err != nil {
		writeError(w, r, err)
		return
	}
	user := auth.UserFromContext(r.Context())
	if u.Subscribed != nil && !user.Admin {
		writeErrorMessage(w, http.StatusForbidden, "forbidden", "subscribed can only be changed by an admin")
		return
	}

	profile, err := s.deps.Records.MergeProfile(r.Context(), user.ID, u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{
		Profile:      profile,
		Capabilities: action.Capabilities{Admin: user.Admin, Subscribed: profile.Subscribed},
	})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFromContext(r.Context()).ID
	notes, stop := s.deps.Notifications.Subscribe(uid)
	defer stop()

	stream, err := newEventStream(w)
	if err != nil {
		writeErrorMessage(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case n := <-notes:
			if err := stream.send("notification", n); err != nil {
				return
			}
		case <-keepAlive.C:
			if err := stream.ping(); err != nil {
				return
			}
		case <-s.closing:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
