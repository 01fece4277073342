// Package audit implements the append-only provenance log: every policy
// decision and every graph mutation becomes exactly one JSONL entry. The log
// is never edited or pruned.
package audit

import (
	"bufio"
	"encoding/json/v2"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corticalco/engram/pkg/policy"
)

// Entry kinds.
const (
	KindDecision = "decision"
	KindMutation = "mutation"
)

// Mutation actions.
const (
	ActionWrite               = "write"
	ActionSprout              = "sprout"
	ActionAppend              = "append"
	ActionConsolidate         = "consolidate"
	ActionConsolidateRejected = "consolidate_rejected"
	ActionHeadAdvanced        = "head_advanced"
)

// Entry is one line of the audit log.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`

	// Decision entries.
	Decision *policy.Decision `json:"decision,omitempty"`
	Preview  string           `json:"preview,omitempty"`

	// Mutation entries.
	Action  string `json:"action,omitempty"`
	Path    string `json:"path,omitempty"`
	CID     string `json:"cid,omitempty"`
	PrevCID string `json:"prev_cid,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// Filter narrows a Query.
type Filter struct {
	Kind  string
	Since time.Time
	Until time.Time
	Limit int
}

// Stats summarizes the log.
type Stats struct {
	TotalEntries    int `json:"total_entries"`
	EvaluationCount int `json:"evaluation_count"`
	ViolationCount  int `json:"violation_count"`
	MutationCount   int `json:"mutation_count"`
}

// Log is a single-writer JSONL audit log. Appends are serialized by a mutex;
// readers re-open the file independently.
type Log struct {
	mu         sync.Mutex
	path       string
	previewLen int
}

// Option configures a Log.
type Option func(*Log)

// WithPreviewLen caps the redacted input preview recorded on decision
// entries. Zero disables previews entirely.
func WithPreviewLen(n int) Option {
	return func(l *Log) {
		l.previewLen = n
	}
}

// New creates the log file's directory if needed and returns a handle.
func New(path string, opts ...Option) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating logbook directory: %w", err)
	}
	l := &Log{path: path, previewLen: 120}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the location of the underlying JSONL file.
func (l *Log) Path() string {
	return l.path
}

// Decision appends a decision entry, storing a redacted preview of the
// evaluated input alongside the full decision.
func (l *Log) Decision(d *policy.Decision, input string) (*Entry, error) {
	return l.append(&Entry{
		Kind:     KindDecision,
		Decision: d,
		Preview:  l.preview(input),
	})
}

// Mutation appends a mutation entry.
func (l *Log) Mutation(action, path, cid, prevCID, outcome, detail string) (*Entry, error) {
	return l.append(&Entry{
		Kind:    KindMutation,
		Action:  action,
		Path:    path,
		CID:     cid,
		PrevCID: prevCID,
		Outcome: outcome,
		Detail:  detail,
	})
}

func (l *Log) append(e *Entry) (*Entry, error) {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("appending audit entry: %w", err)
	}
	return e, nil
}

// Query scans the log in append order, applying the filter. A zero filter
// returns everything.
func (l *Log) Query(filter Filter) ([]*Entry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	var out []*Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("decoding audit entry: %w", err)
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, &e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}
	return out, nil
}

// Stats tallies the whole log.
func (l *Log) Stats() (*Stats, error) {
	entries, err := l.Query(Filter{})
	if err != nil {
		return nil, err
	}
	st := &Stats{TotalEntries: len(entries)}
	for _, e := range entries {
		switch e.Kind {
		case KindDecision:
			st.EvaluationCount++
			if e.Decision != nil && !e.Decision.Passed {
				st.ViolationCount++
			}
		case KindMutation:
			st.MutationCount++
		}
	}
	return st, nil
}

// preview flattens and truncates input so the log carries enough context to
// explain a decision without storing the full payload.
func (l *Log) preview(input string) string {
	if l.previewLen <= 0 {
		return ""
	}
	flat := strings.Join(strings.Fields(input), " ")
	if len(flat) > l.previewLen {
		runes := []rune(flat)
		if len(runes) > l.previewLen {
			return string(runes[:l.previewLen]) + "…"
		}
	}
	return flat
}
