package domain

import "time"

// FeedbackCapacity bounds the per-room feedback log; oldest entries go first.
const FeedbackCapacity = 100

type Feedback struct {
	From        string    `json:"from"`
	Text        string    `json:"text"`
	Env         string    `json:"env"`
	LastConsole string    `json:"lastConsole"`
	At          time.Time `json:"at"`
}

// FeedbackLog is a bounded append-only sequence. Not safe for concurrent use;
// the registry serializes access.
type FeedbackLog struct {
	capacity int
	entries  []Feedback
}

func NewFeedbackLog(capacity int) *FeedbackLog {
	if capacity <= 0 {
		capacity = FeedbackCapacity
	}
	return &FeedbackLog{capacity: capacity}
}

func (l *FeedbackLog) Append(f Feedback) {
	if len(l.entries) == l.capacity {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:l.capacity-1]
	}
	l.entries = append(l.entries, f)
}

func (l *FeedbackLog) Len() int { return len(l.entries) }

// Entries returns a copy in insertion order.
func (l *FeedbackLog) Entries() []Feedback {
	out := make([]Feedback, len(l.entries))
	copy(out, l.entries)
	return out
}
