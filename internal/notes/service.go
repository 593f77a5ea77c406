package notes

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore = errors.New("note store is required")
	noOpLogger      = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "notes.service.new"
	opCreate       = "notes.create"
	opUpdate       = "notes.update"
	opGet          = "notes.get"
	opGetRange     = "notes.get_range"
	opGetAll       = "notes.get_all"
	opDelete       = "notes.delete"
	opListTags     = "notes.list_tags"
	opFilterByTags = "notes.filter_by_tags"
	opHistory      = "notes.history"

	reasonMissingStore  = "missing_store"
	reasonInvalidNote   = "invalid_note"
	reasonInvalidRange  = "invalid_range"
	reasonNotFound      = "not_found"
	reasonCorruptRecord = "corrupt_record"
	reasonStoreFailed   = "store_failed"
	reasonJournalFailed = "journal_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Store    Store
	Resolver *Resolver
	Journal  Journal
	Codec    KeyCodec
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service exposes note operations to the transport layer.
type Service struct {
	store    Store
	resolver *Resolver
	journal  Journal
	codec    KeyCodec
	clock    func() time.Time
	logger   *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, reasonMissingStore, errMissingStore)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewResolver(ResolverConfig{Logger: logger})
	}

	return &Service{
		store:    cfg.Store,
		resolver: resolver,
		journal:  cfg.Journal,
		codec:    NewKeyCodec(cfg.Codec.Location),
		clock:    clock,
		logger:   logger,
	}, nil
}

// Codec returns the key codec used by the service.
func (s *Service) Codec() KeyCodec {
	return s.codec
}

// Create resolves draft metadata and stores a new note stamped with the
// current second. Two notes created within the same second share a key and
// the later one wins.
func (s *Service) Create(ctx context.Context, draft Draft) (Note, error) {
	if s.store == nil {
		return Note{}, s.fail(opCreate, reasonMissingStore, errMissingStore)
	}
	resolution, err := s.resolver.Resolve(ctx, draft)
	if err != nil {
		return Note{}, s.fail(opCreate, reasonInvalidNote, err)
	}
	note := noteFromResolution(s.codec.Normalize(s.clock()), resolution)
	if err := s.persist(ctx, opCreate, note); err != nil {
		return Note{}, err
	}
	s.appendChange(ctx, note, ChangeOperationCreate)
	return note.clone(), nil
}

// Update replaces the note stored at timestamp, keeping its timestamp.
func (s *Service) Update(ctx context.Context, timestamp time.Time, draft Draft) (Note, error) {
	existing, err := s.lookup(ctx, opUpdate, timestamp)
	if err != nil {
		return Note{}, err
	}
	resolution, err := s.resolver.Resolve(ctx, draft)
	if err != nil {
		return Note{}, s.fail(opUpdate, reasonInvalidNote, err)
	}
	note := noteFromResolution(existing.Timestamp, resolution)
	if err := s.persist(ctx, opUpdate, note); err != nil {
		return Note{}, err
	}
	s.appendChange(ctx, note, ChangeOperationUpdate)
	return note.clone(), nil
}

// Get returns the note stored at timestamp.
func (s *Service) Get(ctx context.Context, timestamp time.Time) (Note, error) {
	return s.lookup(ctx, opGet, timestamp)
}

// GetRange returns the notes within [start, end], oldest first.
func (s *Service) GetRange(ctx context.Context, start, end time.Time) ([]Note, error) {
	if s.store == nil {
		return nil, s.fail(opGetRange, reasonMissingStore, errMissingStore)
	}
	if end.Before(start) {
		return nil, newServiceError(opGetRange, reasonInvalidRange, fmt.Errorf("%w: end precedes start", ErrInvalidRange))
	}
	notes, err := s.store.GetRange(ctx, start, end)
	if err != nil {
		return nil, s.fail(opGetRange, reasonStoreFailed, err)
	}
	return notes, nil
}

// GetAll returns every note, most recent first.
func (s *Service) GetAll(ctx context.Context) ([]Note, error) {
	if s.store == nil {
		return nil, s.fail(opGetAll, reasonMissingStore, errMissingStore)
	}
	notes, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, s.fail(opGetAll, reasonStoreFailed, err)
	}
	return notes, nil
}

// Delete removes the note at timestamp and reports whether it existed.
func (s *Service) Delete(ctx context.Context, timestamp time.Time) (bool, error) {
	if s.store == nil {
		return false, s.fail(opDelete, reasonMissingStore, errMissingStore)
	}
	normalized := s.codec.Normalize(timestamp)
	found, err := s.store.Delete(ctx, normalized)
	if err != nil {
		return false, s.fail(opDelete, reasonStoreFailed, err,
			zap.String("note_key", s.codec.Encode(normalized)))
	}
	if found {
		s.appendChange(ctx, Note{Timestamp: normalized}, ChangeOperationDelete)
	}
	return found, nil
}

// ListAllTags returns the distinct tags across all notes, sorted.
func (s *Service) ListAllTags(ctx context.Context) ([]string, error) {
	if s.store == nil {
		return nil, s.fail(opListTags, reasonMissingStore, errMissingStore)
	}
	notes, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, s.fail(opListTags, reasonStoreFailed, err)
	}
	seen := make(map[string]struct{})
	tags := []string{}
	for _, note := range notes {
		for _, tag := range note.Tags {
			value := strings.ToLower(strings.TrimSpace(tag))
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			tags = append(tags, value)
		}
	}
	slices.Sort(tags)
	return tags, nil
}

// FilterByTags returns the notes carrying at least one of tags, ignoring
// case, most recent first. No tags matches nothing.
func (s *Service) FilterByTags(ctx context.Context, tags []string) ([]Note, error) {
	wanted := NormalizeTags(tags, 0)
	if len(wanted) == 0 {
		return []Note{}, nil
	}
	if s.store == nil {
		return nil, s.fail(opFilterByTags, reasonMissingStore, errMissingStore)
	}
	notes, err := s.store.GetAll(ctx)
	if err != nil {
		return nil, s.fail(opFilterByTags, reasonStoreFailed, err)
	}
	matches := make([]Note, 0, len(notes))
	for _, note := range notes {
		if slices.ContainsFunc(wanted, note.HasTag) {
			matches = append(matches, note)
		}
	}
	return matches, nil
}

// History returns the journaled changes of the note at timestamp, oldest
// first. Without a journal the history is empty.
func (s *Service) History(ctx context.Context, timestamp time.Time) ([]ChangeRecord, error) {
	if s.journal == nil {
		return []ChangeRecord{}, nil
	}
	key := s.codec.Encode(timestamp)
	records, err := s.journal.History(ctx, key)
	if err != nil {
		return nil, s.fail(opHistory, reasonJournalFailed, err, zap.String("note_key", key))
	}
	return records, nil
}

func (s *Service) lookup(ctx context.Context, operation string, timestamp time.Time) (Note, error) {
	if s.store == nil {
		return Note{}, s.fail(operation, reasonMissingStore, errMissingStore)
	}
	key := s.codec.Encode(timestamp)
	note, found, err := s.store.Get(ctx, s.codec.Normalize(timestamp))
	if errors.Is(err, ErrCorruptRecord) {
		return Note{}, s.fail(operation, reasonCorruptRecord, err, zap.String("note_key", key))
	}
	if err != nil {
		return Note{}, s.fail(operation, reasonStoreFailed, err, zap.String("note_key", key))
	}
	if !found {
		return Note{}, newServiceError(operation, reasonNotFound, ErrNoteNotFound)
	}
	return note, nil
}

func (s *Service) persist(ctx context.Context, operation string, note Note) error {
	if err := note.validate(); err != nil {
		return s.fail(operation, reasonInvalidNote, err)
	}
	if err := s.store.Save(ctx, note); err != nil {
		return s.fail(operation, reasonStoreFailed, err, zap.String("note_key", s.codec.Encode(note.Timestamp)))
	}
	return nil
}

// appendChange journals a completed operation. The note file is authoritative,
// so journal failures are logged and not returned.
func (s *Service) appendChange(ctx context.Context, note Note, operation ChangeOperation) {
	if s.journal == nil {
		return
	}
	record := ChangeRecord{
		NoteKey:          s.codec.Encode(note.Timestamp),
		Operation:        operation,
		AppliedAtSeconds: s.clock().UTC().Unix(),
		Title:            note.Title,
	}
	if err := s.journal.Append(ctx, record); err != nil {
		s.logError("notes.journal.append", reasonJournalFailed, err,
			zap.String("note_key", record.NoteKey),
			zap.String("change_operation", string(operation)))
	}
}

func noteFromResolution(timestamp time.Time, resolution Resolution) Note {
	return Note{
		Timestamp: timestamp,
		Title:     resolution.Title,
		Summary:   resolution.Summary,
		Contents:  resolution.Contents,
		Tags:      append([]string{}, resolution.Tags...),
	}
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
