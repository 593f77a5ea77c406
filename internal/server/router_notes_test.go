package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/notepad/internal/notes"
	"github.com/gin-gonic/gin"
)

type routerFixture struct {
	handler    http.Handler
	store      *notes.FileStore
	dispatcher *RealtimeDispatcher
}

func newRouterFixture(t *testing.T) routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	codec := notes.NewKeyCodec(time.UTC)
	store, err := notes.NewFileStore(notes.FileStoreConfig{Directory: t.TempDir(), Codec: codec})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	current := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	clock := func() time.Time {
		now := current
		current = current.Add(time.Hour)
		return now
	}

	service, err := notes.NewService(notes.ServiceConfig{
		Store:   store,
		Journal: &recordingJournal{},
		Codec:   codec,
		Clock:   clock,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		NotesService:      service,
		Dispatcher:        dispatcher,
		AllowedOrigins:    []string{"http://localhost:3000"},
		HeartbeatInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return routerFixture{handler: handler, store: store, dispatcher: dispatcher}
}

func (f routerFixture) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, target, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	f.handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var payload T
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

type recordingJournal struct {
	records []notes.ChangeRecord
}

func (j *recordingJournal) Append(_ context.Context, record notes.ChangeRecord) error {
	record.ChangeID = record.NoteKey + "/" + string(record.Operation)
	j.records = append(j.records, record)
	return nil
}

func (j *recordingJournal) History(_ context.Context, noteKey string) ([]notes.ChangeRecord, error) {
	history := []notes.ChangeRecord{}
	for _, record := range j.records {
		if record.NoteKey == noteKey {
			history = append(history, record)
		}
	}
	return history, nil
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)
	recorder := fixture.do(t, http.MethodGet, "/", nil)
	expectStatus(t, recorder, http.StatusOK)
	body := decodeBody[map[string]string](t, recorder)
	if body["status"] != "healthy" {
		t.Fatalf("unexpected health payload %v", body)
	}
}

func TestNewHTTPHandlerRequiresService(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatalf("expected error without notes service")
	}
}

func TestNoteLifecycleOverHTTP(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodPost, "/notes/", map[string]string{
		"contents": "tags: Work, planning\nMeeting with the team about the roadmap",
	})
	expectStatus(t, recorder, http.StatusOK)
	created := decodeBody[notePayload](t, recorder)
	if created.Timestamp != "2024-01-15T10:30:00" {
		t.Fatalf("unexpected timestamp %q", created.Timestamp)
	}
	if created.Title != "Meeting with the team about" {
		t.Fatalf("unexpected title %q", created.Title)
	}
	if strings.Join(created.Tags, ",") != "work,planning" {
		t.Fatalf("unexpected tags %v", created.Tags)
	}

	for _, target := range []string{"/notes/2024-01-15T10:30:00", "/notes/2024-01-15T10-30-00"} {
		recorder = fixture.do(t, http.MethodGet, target, nil)
		expectStatus(t, recorder, http.StatusOK)
		if fetched := decodeBody[notePayload](t, recorder); fetched.Contents != "Meeting with the team about the roadmap" {
			t.Fatalf("unexpected contents %q", fetched.Contents)
		}
	}

	recorder = fixture.do(t, http.MethodPut, "/notes/2024-01-15T10:30:00", map[string]string{
		"title":    "Roadmap",
		"contents": "Updated body",
		"tags":     "later",
	})
	expectStatus(t, recorder, http.StatusOK)
	updated := decodeBody[notePayload](t, recorder)
	if updated.Timestamp != created.Timestamp || updated.Title != "Roadmap" || updated.Contents != "Updated body" {
		t.Fatalf("unexpected updated note %#v", updated)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/2024-01-15T10:30:00/history", nil)
	expectStatus(t, recorder, http.StatusOK)
	history := decodeBody[[]changePayload](t, recorder)
	if len(history) != 2 || history[0].Operation != "create" || history[1].Operation != "update" {
		t.Fatalf("unexpected history %#v", history)
	}

	recorder = fixture.do(t, http.MethodDelete, "/notes/2024-01-15T10:30:00", nil)
	expectStatus(t, recorder, http.StatusOK)

	recorder = fixture.do(t, http.MethodDelete, "/notes/2024-01-15T10:30:00", nil)
	expectStatus(t, recorder, http.StatusNotFound)

	recorder = fixture.do(t, http.MethodGet, "/notes/2024-01-15T10:30:00", nil)
	expectStatus(t, recorder, http.StatusNotFound)
	if body := decodeBody[map[string]string](t, recorder); body["code"] != "notes.get.not_found" {
		t.Fatalf("unexpected error payload %v", body)
	}
}

func TestCreateNoteValidation(t *testing.T) {
	fixture := newRouterFixture(t)

	testCases := []struct {
		name  string
		body  any
		label string
	}{
		{name: "malformed json", body: "{", label: "invalid_request"},
		{name: "blank contents", body: map[string]string{"contents": "  "}, label: "invalid_note"},
		{name: "directive only", body: map[string]string{"contents": "tags: work"}, label: "invalid_note"},
		{name: "title too long", body: map[string]string{"title": strings.Repeat("x", notes.MaxTitleLength+1), "contents": "body"}, label: "invalid_note"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := fixture.do(t, http.MethodPost, "/notes", testCase.body)
			expectStatus(t, recorder, http.StatusBadRequest)
			if body := decodeBody[map[string]string](t, recorder); body["error"] != testCase.label {
				t.Fatalf("expected %s, got %v", testCase.label, body)
			}
		})
	}
}

func TestTimestampValidation(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := fixture.do(t, http.MethodGet, "/notes/not-a-timestamp", nil)
	expectStatus(t, recorder, http.StatusBadRequest)
	if body := decodeBody[map[string]string](t, recorder); body["error"] != "invalid_timestamp" {
		t.Fatalf("unexpected payload %v", body)
	}

	recorder = fixture.do(t, http.MethodPut, "/notes/2024-02-01T00:00:00", map[string]string{"contents": "body"})
	expectStatus(t, recorder, http.StatusNotFound)
}

func TestQueryEndpoints(t *testing.T) {
	fixture := newRouterFixture(t)
	seed := []notes.Note{
		{Timestamp: time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC), Title: "a", Contents: "a", Tags: []string{"work", "ideas"}},
		{Timestamp: time.Date(2024, 1, 12, 9, 0, 0, 0, time.UTC), Title: "b", Contents: "b", Tags: []string{"home"}},
		{Timestamp: time.Date(2024, 1, 20, 18, 45, 0, 0, time.UTC), Title: "c", Contents: "c", Tags: []string{"Work"}},
	}
	for _, note := range seed {
		if err := fixture.store.Save(context.Background(), note); err != nil {
			t.Fatalf("failed to seed note: %v", err)
		}
	}

	recorder := fixture.do(t, http.MethodGet, "/notes/all", nil)
	expectStatus(t, recorder, http.StatusOK)
	if got := payloadTitles(decodeBody[[]notePayload](t, recorder)); got != "c,b,a" {
		t.Fatalf("unexpected order %s", got)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/?start=2024-01-10T08:00:00&end=2024-01-12T09:00:00", nil)
	expectStatus(t, recorder, http.StatusOK)
	if got := payloadTitles(decodeBody[[]notePayload](t, recorder)); got != "a,b" {
		t.Fatalf("unexpected range %s", got)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes?start=2024-01-12T00:00:00&end=2024-01-10T00:00:00", nil)
	expectStatus(t, recorder, http.StatusBadRequest)
	if body := decodeBody[map[string]string](t, recorder); body["error"] != "invalid_range" {
		t.Fatalf("unexpected payload %v", body)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/?start=2024-01-12T00:00:00", nil)
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = fixture.do(t, http.MethodGet, "/notes/filter?tags=WORK", nil)
	expectStatus(t, recorder, http.StatusOK)
	if got := payloadTitles(decodeBody[[]notePayload](t, recorder)); got != "c,a" {
		t.Fatalf("unexpected filter result %s", got)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/filter?tags=home,ideas", nil)
	expectStatus(t, recorder, http.StatusOK)
	if got := payloadTitles(decodeBody[[]notePayload](t, recorder)); got != "b,a" {
		t.Fatalf("unexpected filter result %s", got)
	}

	recorder = fixture.do(t, http.MethodGet, "/tags", nil)
	expectStatus(t, recorder, http.StatusOK)
	if tags := decodeBody[[]string](t, recorder); strings.Join(tags, ",") != "home,ideas,work" {
		t.Fatalf("unexpected tags %v", tags)
	}
}

func TestCorruptRecordSurfacesAsServerError(t *testing.T) {
	fixture := newRouterFixture(t)
	path := filepath.Join(fixture.store.Directory(), "2024-01-15T10-30-00.yaml")
	if err := os.WriteFile(path, []byte("title: [broken"), 0o644); err != nil {
		t.Fatalf("failed to write corrupt record: %v", err)
	}

	recorder := fixture.do(t, http.MethodGet, "/notes/2024-01-15T10:30:00", nil)
	expectStatus(t, recorder, http.StatusInternalServerError)
	if body := decodeBody[map[string]string](t, recorder); body["error"] != "corrupt_record" {
		t.Fatalf("unexpected payload %v", body)
	}

	recorder = fixture.do(t, http.MethodGet, "/notes/all", nil)
	expectStatus(t, recorder, http.StatusOK)
	if listed := decodeBody[[]notePayload](t, recorder); len(listed) != 0 {
		t.Fatalf("expected corrupt record to be skipped, got %d notes", len(listed))
	}
}

func TestNotesStreamDeliversRealtimeEvents(t *testing.T) {
	fixture := newRouterFixture(t)
	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/notes/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	response, err := server.Client().Do(request)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}
	defer response.Body.Close()

	if contentType := response.Header.Get("Content-Type"); !strings.HasPrefix(contentType, "text/event-stream") {
		t.Fatalf("unexpected content type %q", contentType)
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(response.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	waitForLine(t, lines, "event:"+realtimeEventHeartbeat)

	fixture.dispatcher.Publish(RealtimeMessage{
		EventType: RealtimeEventNoteChanged,
		NoteKeys:  []string{"2024-01-15T10-30-00"},
		Timestamp: time.Now().UTC(),
	})

	waitForLine(t, lines, "event:"+RealtimeEventNoteChanged)
	data := waitForLine(t, lines, "data:")
	if !strings.Contains(data, "2024-01-15T10-30-00") {
		t.Fatalf("expected note key in event data, got %q", data)
	}
}

func waitForLine(t *testing.T, lines <-chan string, prefix string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before %q", prefix)
			}
			if strings.HasPrefix(line, prefix) {
				return line
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", prefix)
		}
	}
}

func payloadTitles(payloads []notePayload) string {
	titles := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		titles = append(titles, payload.Title)
	}
	return strings.Join(titles, ",")
}
