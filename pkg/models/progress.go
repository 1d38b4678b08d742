package models

import (
	"fmt"
	"time"
)

// MessageLevel classifies a progress message.
type MessageLevel string

const (
	MessageLevelDebug   MessageLevel = "DEBUG"
	MessageLevelInfo    MessageLevel = "INFO"
	MessageLevelSuccess MessageLevel = "SUCCESS"
	MessageLevelWarning MessageLevel = "WARNING"
	MessageLevelError   MessageLevel = "ERROR"
)

const (
	ProgressMin = 0.0
	ProgressMax = 100.0

	// MaxMessageLength bounds the text kept for one progress message.
	MaxMessageLength = 10000
)

type ProgressMessage struct {
	Level MessageLevel `json:"level"`
	Text  string       `json:"text"`
	Time  time.Time    `json:"time"`
}

// Progress is what a task reports while it runs. It is stored on its process
// and reset with it.
type Progress struct {
	Value    float64           `json:"value"`
	Messages []ProgressMessage `json:"messages"`
}

// NewProgress returns an empty progress at ProgressMin.
func NewProgress() *Progress {
	return &Progress{Value: ProgressMin, Messages: []ProgressMessage{}}
}

// SetValue clamps value to [ProgressMin, ProgressMax]. A non-empty message is
// recorded at INFO level.
func (p *Progress) SetValue(value float64, message string, now time.Time) {
	p.Value = min(max(value, ProgressMin), ProgressMax)

	if message != "" {
		p.Add(MessageLevelInfo, message, now)
	}
}

// Add appends a message, truncating texts longer than MaxMessageLength.
func (p *Progress) Add(level MessageLevel, text string, now time.Time) {
	if len(text) > MaxMessageLength {
		text = fmt.Sprintf("%s\n[message truncated to %d characters]", text[:MaxMessageLength], MaxMessageLength)
	}

	p.Messages = append(p.Messages, ProgressMessage{Level: level, Text: text, Time: now})
}

// Elapsed is the run time of a process, counted up to now while it runs.
func (p *ProcessModel) Elapsed(now time.Time) time.Duration {
	switch {
	case p.StartedAt == nil:
		return 0
	case p.EndedAt == nil:
		return now.Sub(*p.StartedAt)
	default:
		return p.EndedAt.Sub(*p.StartedAt)
	}
}
