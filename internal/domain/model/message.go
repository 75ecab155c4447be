package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-ingest/internal/domain"
)

type Tone string

const (
	TonePositive Tone = "POSITIVE"
	ToneNegative Tone = "NEGATIVE"
	ToneNeutral  Tone = "NEUTRAL"
)

// ParseTone upper-cases s and reports whether it names a known tone.
func ParseTone(s string) (Tone, bool) {
	switch t := Tone(strings.ToUpper(strings.TrimSpace(s))); t {
	case TonePositive, ToneNegative, ToneNeutral:
		return t, true
	}
	return "", false
}

type EmotionalLoad string

const (
	EmotionalLoadLow    EmotionalLoad = "LOW"
	EmotionalLoadMedium EmotionalLoad = "MEDIUM"
	EmotionalLoadHigh   EmotionalLoad = "HIGH"
)

func ParseEmotionalLoad(s string) (EmotionalLoad, bool) {
	switch l := EmotionalLoad(strings.ToUpper(strings.TrimSpace(s))); l {
	case EmotionalLoadLow, EmotionalLoadMedium, EmotionalLoadHigh:
		return l, true
	}
	return "", false
}

// Message is one audio submission left by a visitor.
type Message struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"projectId"`
	Filename      string         `json:"filename"`
	AudioKey      *string        `json:"audioKey"`
	Duration      *int           `json:"duration"` // seconds
	Speaker       *string        `json:"speaker"`
	Transcript    *string        `json:"transcript"`
	Tone          *Tone          `json:"tone"`
	Quote         *string        `json:"quote"`
	EmotionalLoad *EmotionalLoad `json:"emotionalLoad"`

	ProcessingStatus ProcessingStatus `json:"processingStatus"`
	ProcessingError  *string          `json:"processingError"`
	ProcessedAt      *time.Time       `json:"processedAt"`
	RetryCount       int              `json:"retryCount"`
	GCPJobID         *string          `json:"gcpJobId"`
	GCPDuration      *float64         `json:"gcpDuration"`

	ThemeIDs []string `json:"themeIds"`
	Emotions []string `json:"emotions"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewMessage builds a PENDING message for a project. An empty id gets a fresh UUID.
func NewMessage(id, projectID, filename string) (*Message, error) {
	if strings.TrimSpace(projectID) == "" || strings.TrimSpace(filename) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Message{
		ID:               id,
		ProjectID:        projectID,
		Filename:         filename,
		ProcessingStatus: StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// HasAudio reports whether an upload has ever succeeded for the message.
func (m *Message) HasAudio() bool {
	return m.AudioKey != nil && *m.AudioKey != ""
}

// Clone returns a deep copy; repositories hand out clones so callers can't alias stored state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.AudioKey = clonePtr(m.AudioKey)
	cp.Duration = clonePtr(m.Duration)
	cp.Speaker = clonePtr(m.Speaker)
	cp.Transcript = clonePtr(m.Transcript)
	cp.Tone = clonePtr(m.Tone)
	cp.Quote = clonePtr(m.Quote)
	cp.EmotionalLoad = clonePtr(m.EmotionalLoad)
	cp.ProcessingError = clonePtr(m.ProcessingError)
	cp.ProcessedAt = clonePtr(m.ProcessedAt)
	cp.GCPJobID = clonePtr(m.GCPJobID)
	cp.GCPDuration = clonePtr(m.GCPDuration)
	cp.ThemeIDs = append([]string(nil), m.ThemeIDs...)
	cp.Emotions = append([]string(nil), m.Emotions...)
	return &cp
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr is a small helper for optional fields.
func Ptr[T any](v T) *T { return &v }
