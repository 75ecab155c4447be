package model

import "time"

// StatusPatch is the sparse update an external worker reports. Nil fields are left untouched.
type StatusPatch struct {
	Status          *ProcessingStatus `json:"processingStatus,omitempty"`
	ProcessingError *string           `json:"processingError,omitempty"`
	ProcessedAt     *time.Time        `json:"processedAt,omitempty"`
	// RetryCount is accepted for wire compatibility only; retries are counted by the orchestrator.
	RetryCount    *int           `json:"retryCount,omitempty"`
	GCPJobID      *string        `json:"gcpJobId,omitempty"`
	GCPDuration   *float64       `json:"gcpDuration,omitempty"`
	Tone          *Tone          `json:"tone,omitempty"`
	Transcript    *string        `json:"transcript,omitempty"`
	Speaker       *string        `json:"speaker,omitempty"`
	Duration      *int           `json:"duration,omitempty"`
	Quote         *string        `json:"quote,omitempty"`
	EmotionalLoad *EmotionalLoad `json:"emotionalLoad,omitempty"`
}

// MessagePatch is the repository-level sparse write.
type MessagePatch struct {
	AudioKey             *string
	Status               *ProcessingStatus
	ProcessingError      *string
	ClearProcessingError bool
	ProcessedAt          *time.Time
	IncrementRetry       bool
	GCPJobID             *string
	GCPDuration          *float64
	Tone                 *Tone
	Transcript           *string
	Speaker              *string
	Duration             *int
	Quote                *string
	EmotionalLoad        *EmotionalLoad
}

// QueuedPatch moves a message to QUEUED and clears any previous error.
func QueuedPatch() MessagePatch {
	st := StatusQueued
	return MessagePatch{Status: &st, ClearProcessingError: true}
}

// IsEmpty reports whether applying p would change nothing.
func (p MessagePatch) IsEmpty() bool {
	return p.AudioKey == nil && p.Status == nil && p.ProcessingError == nil &&
		!p.ClearProcessingError && p.ProcessedAt == nil && !p.IncrementRetry &&
		p.GCPJobID == nil && p.GCPDuration == nil && p.Tone == nil &&
		p.Transcript == nil && p.Speaker == nil && p.Duration == nil &&
		p.Quote == nil && p.EmotionalLoad == nil
}

// Apply merges p into m in place and bumps UpdatedAt.
func (p MessagePatch) Apply(m *Message, now time.Time) {
	if p.AudioKey != nil {
		m.AudioKey = clonePtr(p.AudioKey)
	}
	if p.Status != nil {
		m.ProcessingStatus = *p.Status
	}
	if p.ClearProcessingError {
		m.ProcessingError = nil
	}
	if p.ProcessingError != nil {
		m.ProcessingError = clonePtr(p.ProcessingError)
	}
	if p.ProcessedAt != nil {
		m.ProcessedAt = clonePtr(p.ProcessedAt)
	}
	if p.IncrementRetry {
		m.RetryCount++
	}
	if p.GCPJobID != nil {
		m.GCPJobID = clonePtr(p.GCPJobID)
	}
	if p.GCPDuration != nil {
		m.GCPDuration = clonePtr(p.GCPDuration)
	}
	if p.Tone != nil {
		m.Tone = clonePtr(p.Tone)
	}
	if p.Transcript != nil {
		m.Transcript = clonePtr(p.Transcript)
	}
	if p.Speaker != nil {
		m.Speaker = clonePtr(p.Speaker)
	}
	if p.Duration != nil {
		m.Duration = clonePtr(p.Duration)
	}
	if p.Quote != nil {
		m.Quote = clonePtr(p.Quote)
	}
	if p.EmotionalLoad != nil {
		m.EmotionalLoad = clonePtr(p.EmotionalLoad)
	}
	m.UpdatedAt = now
}
