package results

import (
	"time"
)

// Status is the outcome category of a single action.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
	StatusInfo    Status = "info"
)

// Result is one outcome of one operation. Entries are never modified after
// they are appended to a Log.
type Result struct {
	Action    string         `json:"action"`
	Status    Status         `json:"status"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Observer is notified of every entry right after it is appended.
type Observer func(Result)

// Log is the ordered, append-only record of a single deprovisioning run.
// It is owned by one run and is not safe for concurrent use.
type Log struct {
	entries  []Result
	now      func() time.Time
	observer Observer
}

// Option configures a Log.
type Option func(*Log)

// WithObserver registers fn to see each appended entry.
func WithObserver(fn Observer) Option {
	return func(l *Log) {
		l.observer = fn
	}
}

// WithClock overrides the timestamp source (tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLog returns an empty log.
func NewLog(opts ...Option) *Log {
	l := &Log{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add appends an entry and returns the stored copy.
func (l *Log) Add(action string, status Status, message string, details map[string]any) Result {
	copied := make(map[string]any, len(details))
	for k, v := range details {
		copied[k] = v
	}
	entry := Result{
		Action:    action,
		Status:    status,
		Message:   message,
		Details:   copied,
		Timestamp: l.now().UTC(),
	}
	l.entries = append(l.entries, entry)
	if l.observer != nil {
		l.observer(entry)
	}
	return entry
}

func (l *Log) Success(action, message string) Result {
	return l.Add(action, StatusSuccess, message, nil)
}

func (l *Log) Error(action, message string) Result {
	return l.Add(action, StatusError, message, nil)
}

func (l *Log) Warning(action, message string) Result {
	return l.Add(action, StatusWarning, message, nil)
}

func (l *Log) Info(action, message string) Result {
	return l.Add(action, StatusInfo, message, nil)
}

// Entries returns a copy of the log in execution order.
func (l *Log) Entries() []Result {
	out := make([]Result, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the number of entries.
func (l *Log) Len() int { return len(l.entries) }

// Last returns the most recent entry.
func (l *Log) Last() (Result, bool) {
	if len(l.entries) == 0 {
		return Result{}, false
	}
	return l.entries[len(l.entries)-1], true
}
