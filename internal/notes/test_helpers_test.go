package notes

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var testLocation = time.FixedZone("UTC+2", 2*60*60)

func testCodec() KeyCodec {
	return NewKeyCodec(testLocation)
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation(timestampLayout, value, testLocation)
	if err != nil {
		t.Fatalf("unexpected time parse error: %v", err)
	}
	return parsed
}

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(FileStoreConfig{Directory: t.TempDir(), Codec: testCodec()})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustSave(t *testing.T, store Store, note Note) {
	t.Helper()
	if err := store.Save(context.Background(), note); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
	step    time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.current
	c.current = c.current.Add(c.step)
	return now
}

// stubGenerator answers with canned values or errors and counts calls.
type stubGenerator struct {
	mu       sync.Mutex
	title    string
	summary  string
	tags     []string
	err      error
	delay    time.Duration
	calls    map[string]int
	received []string
}

func (g *stubGenerator) record(operation, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls == nil {
		g.calls = make(map[string]int)
	}
	g.calls[operation]++
	g.received = append(g.received, text)
}

func (g *stubGenerator) callCount(operation string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[operation]
}

func (g *stubGenerator) wait(ctx context.Context) error {
	if g.delay <= 0 {
		return g.err
	}
	select {
	case <-time.After(g.delay):
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *stubGenerator) SuggestTitle(ctx context.Context, text string) (string, error) {
	g.record(generatorOpTitle, text)
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.title, nil
}

func (g *stubGenerator) SuggestSummary(ctx context.Context, text string) (string, error) {
	g.record(generatorOpSummary, text)
	if err := g.wait(ctx); err != nil {
		return "", err
	}
	return g.summary, nil
}

func (g *stubGenerator) SuggestTags(ctx context.Context, text string) ([]string, error) {
	g.record(generatorOpTags, text)
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return g.tags, nil
}

// memoryJournal records changes in memory.
type memoryJournal struct {
	mu      sync.Mutex
	records []ChangeRecord
	fail    bool
}

func (j *memoryJournal) Append(_ context.Context, record ChangeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail {
		return errors.New("journal offline")
	}
	record.ChangeID = record.NoteKey + "-" + string(record.Operation)
	j.records = append(j.records, record)
	return nil
}

func (j *memoryJournal) History(_ context.Context, noteKey string) ([]ChangeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	history := []ChangeRecord{}
	for _, record := range j.records {
		if record.NoteKey == noteKey {
			history = append(history, record)
		}
	}
	return history, nil
}
