// Package audit records every remote command the controller dispatches to
// an append-only JSONL file, batched so a busy pipeline does not block on
// disk writes. The cluster secret is redacted before an entry is queued.
package audit

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/utils/batcher"
	"github.com/rs/xid"
)

var (
	DefaultBatchSize     = 64
	DefaultFlushInterval = 5 * time.Second
)

const redacted = "****"

// Entry is one dispatched remote command.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage"`
	RigID   int       `json:"rig_id"`
	Command string    `json:"command"`
	Error   string    `json:"error,omitempty"`
}

// Log is a batched JSONL audit sink.
type Log struct {
	secret  string
	batcher *batcher.Batcher[Entry]

	mu   sync.Mutex
	file *os.File
}

// New opens (or creates) the audit file at path. Secret, if non-empty, is
// scrubbed from every recorded command.
func New(path, secret string) (*Log, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	l := &Log{secret: secret, file: file}
	l.batcher = batcher.New(
		batcher.WithMaxCapacity[Entry](DefaultBatchSize),
		batcher.WithFlushInterval[Entry](DefaultFlushInterval),
		batcher.WithFlushCallback[Entry](l.flush),
	)
	go l.batcher.Run()
	return l, nil
}

// Record queues one entry. runErr may be nil.
func (l *Log) Record(stage string, rigID int, command string, runErr error) {
	entry := Entry{
		ID:      xid.New().String(),
		Time:    time.Now().UTC(),
		Stage:   stage,
		RigID:   rigID,
		Command: l.Redact(command),
	}
	if runErr != nil {
		entry.Error = l.Redact(runErr.Error())
	}
	l.batcher.Append(entry)
}

// Redact scrubs the cluster secret from s.
func (l *Log) Redact(s string) string {
	if l.secret == "" {
		return s
	}
	return strings.ReplaceAll(s, l.secret, redacted)
}

func (l *Log) flush(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			gologger.Warning().Msgf("audit: marshal failed: %v", err)
			continue
		}
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			gologger.Warning().Msgf("audit: write failed: %v", err)
			return
		}
	}
}

// Close flushes pending entries and closes the file.
func (l *Log) Close() error {
	l.batcher.Stop()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
