package notes

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data next to filename and renames it into place so
// readers never observe a partial record.
func writeFileAtomic(filename string, data []byte, perm os.FileMode) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(filename), TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpName := tmpFile.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close() //nolint:errcheck
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close() //nolint:errcheck
		return fmt.Errorf("sync temp record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp record: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename record into %s: %w", filepath.Base(filename), err)
	}
	return nil
}
