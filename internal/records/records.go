// Package records is the typed layer over the document store: saved
// translations, voice memos, feedback and user profiles.
package records

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/tjfontaine/polyglot-lingua/internal/bridge"
	"github.com/tjfontaine/polyglot-lingua/internal/core/domain"
	"github.com/tjfontaine/polyglot-lingua/internal/core/ports"
)

const (
	translationsCollection = "translations"
	voiceMemosCollection   = "voiceMemos"
	feedbackCollection     = "feedback"
)

// ErrInvalidUser is returned for empty or malformed user ids.
var ErrInvalidUser = errors.New("invalid user id")

// Service reads and writes records for authenticated users.
type Service struct {
	store ports.DocumentStore
	now   func() time.Time
}

var _ bridge.Writer = (*Service)(nil)

// New creates a records service over store.
func New(store ports.DocumentStore) *Service {
	return &Service{store: store, now: time.Now}
}

func userPath(uid string) (string, error) {
	if uid == "" || strings.ContainsAny(uid, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUser, uid)
	}
	return "users/" + uid, nil
}

func userCollection(uid, name string) (string, error) {
	p, err := userPath(uid)
	if err != nil {
		return "", err
	}
	return p + "/" + name, nil
}

// AddTranslation saves rec under the user's translations and returns its id.
func (s *Service) AddTranslation(ctx context.Context, uid string, rec domain.TranslationRecord) (string, error) {
	col, err := userCollection(uid, translationsCollection)
	if err != nil {
		return "", err
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = domain.UnixMillis(s.now())
	}
	return s.create(ctx, col, rec)
}

// DeleteTranslation removes a saved translation. Missing ids are ignored.
func (s *Service) DeleteTranslation(ctx context.Context, uid, id string) error {
	col, err := userCollection(uid, translationsCollection)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, col, id)
}

// SubscribeTranslations streams the user's translations, newest first.
// A zero limit returns all of them.
func (s *Service) SubscribeTranslations(ctx context.Context, uid string, limit int) (<-chan Snapshot[domain.TranslationRecord], error) {
	col, err := userCollection(uid, translationsCollection)
	if err != nil {
		return nil, err
	}
	q := ports.Query{Collection: col, OrderBy: "timestamp", Descending: true, Limit: limit}
	return subscribe(ctx, s.store, q, func(r *domain.TranslationRecord, id string) { r.ID = id })
}

// AddVoiceMemo saves memo under the user's voice memos.
func (s *Service) AddVoiceMemo(ctx context.Context, uid string, memo domain.VoiceMemo) (string, error) {
	col, err := userCollection(uid, voiceMemosCollection)
	if err != nil {
		return "", err
	}
	if memo.CreatedAt == 0 {
		memo.CreatedAt = domain.UnixMillis(s.now())
	}
	return s.create(ctx, col, memo)
}

func (s *Service) DeleteVoiceMemo(ctx context.Context, uid, id string) error {
	col, err := userCollection(uid, voiceMemosCollection)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, col, id)
}

// SubscribeVoiceMemos streams the user's memos, newest first.
func (s *Service) SubscribeVoiceMemos(ctx context.Context, uid string, limit int) (<-chan Snapshot[domain.VoiceMemo], error) {
	col, err := userCollection(uid, voiceMemosCollection)
	if err != nil {
		return nil, err
	}
	q := ports.Query{Collection: col, OrderBy: "createdAt", Descending: true, Limit: limit}
	return subscribe(ctx, s.store, q, func(m *domain.VoiceMemo, id string) { m.ID = id })
}

// AddFeedback stores a correction in the global feedback collection.
func (s *Service) AddFeedback(ctx context.Context, rec domain.FeedbackRecord) (string, error) {
	if _, err := userPath(rec.UserID); err != nil {
		return "", err
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = domain.UnixMillis(s.now())
	}
	return s.create(ctx, feedbackCollection, rec)
}

// GetProfile reads the user's profile. A user who never saved one gets the
// zero profile.
func (s *Service) GetProfile(ctx context.Context, uid string) (domain.Profile, error) {
	var p domain.Profile
	path, err := userPath(uid)
	if err != nil {
		return p, err
	}
	data, err := s.store.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	if err := fromDocument(data, &p); err != nil {
		return p, fmt.Errorf("profile %s: %w", uid, err)
	}
	return p, nil
}

// ProfileUpdate lists the profile fields to change. Nil fields are left as
// they are.
type ProfileUpdate struct {
	DisplayName       *string  `json:"displayName,omitempty"`
	NativeLanguage    *string  `json:"nativeLanguage,omitempty"`
	LearningLanguages []string `json:"learningLanguages,omitempty"`
	Subscribed        *bool    `json:"subscribed,omitempty"`
}

// MergeProfile upserts the fields set in u and returns the stored profile.
func (s *Service) MergeProfile(ctx context.Context, uid string, u ProfileUpdate) (domain.Profile, error) {
	path, err := userPath(uid)
	if err != nil {
		return domain.Profile{}, err
	}

	fields := map[string]any{"updatedAt": domain.UnixMillis(s.now())}
	if u.DisplayName != nil {
		fields["displayName"] = *u.DisplayName
	}
	if u.NativeLanguage != nil {
		fields["nativeLanguage"] = *u.NativeLanguage
	}
	if u.LearningLanguages != nil {
		langs := make([]any, len(u.LearningLanguages))
		for i, l := range u.LearningLanguages {
			langs[i] = l
		}
		fields["learningLanguages"] = langs
	}
	if u.Subscribed != nil {
		fields["subscribed"] = *u.Subscribed
	}

	if err := s.store.Merge(ctx, path, fields); err != nil {
		return domain.Profile{}, err
	}
	return s.GetProfile(ctx, uid)
}

func (s *Service) create(ctx context.Context, collection string, v any) (string, error) {
	data, err := toDocument(v)
	if err != nil {
		return "", err
	}
	return s.store.Create(ctx, collection, data)
}

// Snapshot is one typed result of a subscription.
type Snapshot[T any] struct {
	Items []T
	Err   error
}

func subscribe[T any](ctx context.Context, store ports.DocumentStore, q ports.Query, setID func(*T, string)) (<-chan Snapshot[T], error) {
	in, err := store.Subscribe(ctx, q)
	if err != nil {
		return nil, err
	}

	out := make(chan Snapshot[T], 1)
	go func() {
		defer close(out)
		for snap := range in {
			typed := Snapshot[T]{Err: snap.Err}
			if snap.Err == nil {
				typed.Items = make([]T, 0, len(snap.Documents))
				for _, doc := range snap.Documents {
					var item T
					if err := fromDocument(doc.Data, &item); err != nil {
						typed = Snapshot[T]{Err: fmt.Errorf("%s/%s: %w", q.Collection, doc.ID, err)}
						break
					}
					setID(&item, doc.ID)
					typed.Items = append(typed.Items, item)
				}
			}
			select {
			case out <- typed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// toDocument converts a record into the store's generic form. Whole
// numbers become int64 so timestamps survive stores with an integer type.
func toDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return normalize(m).(map[string]any), nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	}
	return v
}

func fromDocument(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
