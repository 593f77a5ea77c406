package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	// RecordExtension is the file extension of serialized note records.
	RecordExtension = ".yaml"
	// TempFilePrefix is the prefix used for in-flight atomic writes.
	TempFilePrefix = "notepad-tmp-"

	recordPermissions    = 0o644
	directoryPermissions = 0o755
)

var errMissingDirectory = errors.New("notes directory is required")

// Store persists notes keyed by timestamp.
type Store interface {
	Save(ctx context.Context, note Note) error
	Get(ctx context.Context, timestamp time.Time) (Note, bool, error)
	GetRange(ctx context.Context, start, end time.Time) ([]Note, error)
	GetAll(ctx context.Context) ([]Note, error)
	Delete(ctx context.Context, timestamp time.Time) (bool, error)
}

// FileStoreConfig describes the dependencies of a FileStore.
type FileStoreConfig struct {
	Directory string
	Codec     KeyCodec
	Logger    *zap.Logger
}

// FileStore keeps one YAML record per note in a flat directory. Entries whose
// names do not decode to a timestamp are ignored.
type FileStore struct {
	dir    string
	codec  KeyCodec
	logger *zap.Logger
}

type noteRecord struct {
	Timestamp string   `yaml:"timestamp"`
	Title     string   `yaml:"title"`
	Summary   string   `yaml:"summary"`
	Contents  string   `yaml:"contents"`
	Tags      []string `yaml:"tags"`
}

// NewFileStore creates the directory when missing and returns a store over it.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if strings.TrimSpace(cfg.Directory) == "" {
		return nil, errMissingDirectory
	}
	if err := os.MkdirAll(cfg.Directory, directoryPermissions); err != nil {
		return nil, fmt.Errorf("create notes directory: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &FileStore{
		dir:    cfg.Directory,
		codec:  NewKeyCodec(cfg.Codec.Location),
		logger: logger,
	}, nil
}

// Directory returns the directory backing the store.
func (s *FileStore) Directory() string {
	return s.dir
}

// Codec returns the key codec used for entry names.
func (s *FileStore) Codec() KeyCodec {
	return s.codec
}

// Save writes the full record, replacing any record stored under the same key.
func (s *FileStore) Save(ctx context.Context, note Note) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if note.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidDraft)
	}
	record := noteRecord{
		Timestamp: s.codec.FormatTimestamp(note.Timestamp),
		Title:     note.Title,
		Summary:   note.Summary,
		Contents:  note.Contents,
		Tags:      append([]string{}, note.Tags...),
	}
	data, err := yaml.Marshal(&record)
	if err != nil {
		return fmt.Errorf("encode note record: %w", err)
	}
	return writeFileAtomic(s.pathFor(note.Timestamp), data, recordPermissions)
}

// Get loads the note stored at timestamp. A missing record reports found=false
// with a nil error; a record that does not decode into a valid note reports
// ErrCorruptRecord.
func (s *FileStore) Get(ctx context.Context, timestamp time.Time) (Note, bool, error) {
	if err := ctx.Err(); err != nil {
		return Note{}, false, err
	}
	note, err := s.load(s.pathFor(timestamp), s.codec.Normalize(timestamp))
	if errors.Is(err, fs.ErrNotExist) {
		return Note{}, false, nil
	}
	if err != nil {
		return Note{}, false, err
	}
	return note, true, nil
}

// GetRange returns notes whose timestamps fall within [start, end], oldest first.
func (s *FileStore) GetRange(ctx context.Context, start, end time.Time) ([]Note, error) {
	lower := s.codec.Normalize(start)
	upper := s.codec.Normalize(end)
	notes, err := s.scan(ctx, func(timestamp time.Time) bool {
		return !timestamp.Before(lower) && !timestamp.After(upper)
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(notes, func(a, b Note) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return notes, nil
}

// GetAll returns every readable note, most recent first.
func (s *FileStore) GetAll(ctx context.Context) ([]Note, error) {
	notes, err := s.scan(ctx, func(time.Time) bool { return true })
	if err != nil {
		return nil, err
	}
	slices.SortFunc(notes, func(a, b Note) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return notes, nil
}

// Delete removes the record at timestamp and reports whether one existed.
func (s *FileStore) Delete(ctx context.Context, timestamp time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := os.Remove(s.pathFor(timestamp))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove note record: %w", err)
	}
	return true, nil
}

func (s *FileStore) pathFor(timestamp time.Time) string {
	return filepath.Join(s.dir, s.codec.Encode(timestamp)+RecordExtension)
}

// KeyFromEntryName decodes a directory entry name into a note timestamp.
func (s *FileStore) KeyFromEntryName(name string) (time.Time, error) {
	stem, found := strings.CutSuffix(name, RecordExtension)
	if !found {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return s.codec.Decode(stem)
}

func (s *FileStore) scan(ctx context.Context, include func(time.Time) bool) ([]Note, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read notes directory: %w", err)
	}

	notes := make([]Note, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() {
			continue
		}
		timestamp, err := s.KeyFromEntryName(entry.Name())
		if err != nil {
			s.logger.Debug("skipping foreign entry", zap.String("entry", entry.Name()))
			continue
		}
		if !include(timestamp) {
			continue
		}
		note, err := s.load(filepath.Join(s.dir, entry.Name()), timestamp)
		if err != nil {
			// Entries removed between listing and reading are expected.
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("skipping unreadable note record", zap.String("entry", entry.Name()), zap.Error(err))
			}
			continue
		}
		notes = append(notes, note)
	}
	return notes, nil
}

func (s *FileStore) load(path string, timestamp time.Time) (Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Note{}, err
	}
	var record noteRecord
	if err := yaml.Unmarshal(data, &record); err != nil {
		return Note{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, filepath.Base(path), err)
	}
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}
	note := Note{
		Timestamp: timestamp,
		Title:     record.Title,
		Summary:   record.Summary,
		Contents:  record.Contents,
		Tags:      tags,
	}
	if err := note.validate(); err != nil {
		return Note{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, filepath.Base(path), err)
	}
	return note, nil
}
