package domain

import "time"

// TranslationRecord is a saved translation under users/{uid}/translations.
// Records are created or deleted, never updated.
type TranslationRecord struct {
	ID               string `json:"-"`
	SourceText       string `json:"sourceText"`
	TranslatedText   string `json:"translatedText"`
	SourceLang       string `json:"sourceLang"`
	TargetLang       string `json:"targetLang"`
	CulturalContext  string `json:"culturalContext,omitempty"`
	CulturalInsights string `json:"culturalInsights,omitempty"`
	// Timestamp is Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// FeedbackRecord is a user correction stored in the global feedback collection.
type FeedbackRecord struct {
	ID     string `json:"-"`
	UserID string `json:"userId"`
	// OriginalTranslationID refers to a TranslationRecord without owning it.
	OriginalTranslationID  string `json:"originalTranslationId,omitempty"`
	SourceText             string `json:"sourceText"`
	OriginalTranslatedText string `json:"originalTranslatedText"`
	UserCorrectedText      string `json:"userCorrectedText"`
	Timestamp              int64  `json:"timestamp"`
}

// VoiceMemo is a recorded phrase saved under users/{uid}/voiceMemos.
type VoiceMemo struct {
	ID             string `json:"-"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	SourceLang     string `json:"sourceLang"`
	TargetLang     string `json:"targetLang"`
	Title          string `json:"title,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
}

// Profile is the user's own document at users/{uid}; it is merge-upserted.
type Profile struct {
	DisplayName       string   `json:"displayName,omitempty"`
	NativeLanguage    string   `json:"nativeLanguage,omitempty"`
	LearningLanguages []string `json:"learningLanguages,omitempty"`
	Subscribed        bool     `json:"subscribed"`
	UpdatedAt         int64    `json:"updatedAt,omitempty"`
}

// UnixMillis converts t to the millisecond timestamps stored on records.
func UnixMillis(t time.Time) int64 { return t.UnixMilli() }
