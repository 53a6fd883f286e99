package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// maxAuditEntries bounds the per-match buffer; older entries are dropped.
const maxAuditEntries = 20000

// AuditEntry is one received webhook event, kept verbatim.
type AuditEntry struct {
	ID         string          `json:"id"`
	MatchID    int             `json:"match_id"`
	Kind       string          `json:"kind"`
	Stale      bool            `json:"stale"`
	ReceivedAt time.Time       `json:"received_at"`
	Raw        json.RawMessage `json:"raw"`
}

// AuditLog buffers raw events per match and archives them as NDJSON when
// the match finishes.
type AuditLog struct {
	mu       sync.Mutex
	entries  map[int][]AuditEntry
	uploader FileUploader
}

func NewAuditLog(uploader FileUploader) *AuditLog {
	return &AuditLog{entries: make(map[int][]AuditEntry), uploader: uploader}
}

func (l *AuditLog) Append(e AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append(l.entries[e.MatchID], e)
	if len(list) > maxAuditEntries {
		list = list[len(list)-maxAuditEntries:]
	}
	l.entries[e.MatchID] = list
}

// Entries returns a copy of the buffered entries of a match.
func (l *AuditLog) Entries(matchID int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AuditEntry(nil), l.entries[matchID]...)
}

// Flush uploads the buffered entries and clears the buffer on success.
// Returns an empty key when there was nothing to archive.
func (l *AuditLog) Flush(ctx context.Context, matchID int, at time.Time) (string, error) {
	l.mu.Lock()
	list := l.entries[matchID]
	l.mu.Unlock()
	if len(list) == 0 || l.uploader == nil {
		return "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range list {
		if err := enc.Encode(e); err != nil {
			return "", fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
	}

	key := fmt.Sprintf("matches/%d/events-%s.ndjson", matchID, at.UTC().Format("20060102T150405Z"))
	if _, err := l.uploader.Upload(ctx, key, "application/x-ndjson", &buf); err != nil {
		return "", err
	}

	l.mu.Lock()
	// события, пришедшие во время загрузки, остаются в буфере
	if rest := l.entries[matchID]; len(rest) > len(list) {
		l.entries[matchID] = rest[len(list):]
	} else {
		delete(l.entries, matchID)
	}
	l.mu.Unlock()
	return key, nil
}

// MemoryUploader keeps objects in memory. Used when R2 is not configured.
type MemoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryUploader() *MemoryUploader {
	return &MemoryUploader{objects: make(map[string][]byte)}
}

func (u *MemoryUploader) Upload(_ context.Context, key string, _ string, reader io.Reader) (*UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	u.mu.Lock()
	u.objects[key] = data
	u.mu.Unlock()
	return &UploadResult{Key: key}, nil
}

func (u *MemoryUploader) Delete(_ context.Context, key string) error {
	u.mu.Lock()
	delete(u.objects, key)
	u.mu.Unlock()
	return nil
}

func (u *MemoryUploader) GetPublicURL(string) string { return "" }

// Object returns a stored object.
func (u *MemoryUploader) Object(key string) ([]byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, ok := u.objects[key]
	return data, ok
}
