// shared/backup/backup.go
package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Store writes timestamped, compressed copies of player documents to local
// disk as a last-resort recovery path independent of the database. Backups
// are never deleted automatically; retention is operator-managed.
type Store struct {
	dir string
}

// timestampLayout keeps backup filenames sortable by creation time.
const timestampLayout = "20060102-150405.000000000"

// corruptedSubdir holds quarantined documents that failed validation and repair.
const corruptedSubdir = "corrupted"

// NewStore creates the backup directory tree if needed.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("backup directory must not be empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, corruptedSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the root of the backup tree.
func (s *Store) Dir() string {
	return s.dir
}

// Write serializes doc as JSON, compresses it, and stores it under
// <dir>/<uuid>/<timestamp>.json.lz4. Returns the path written.
func (s *Store) Write(uuid string, doc interface{}) (string, error) {
	if uuid == "" {
		return "", fmt.Errorf("backup requires a player uuid")
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup for player %s: %w", uuid, err)
	}

	playerDir := filepath.Join(s.dir, uuid)
	if err := os.MkdirAll(playerDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory for player %s: %w", uuid, err)
	}

	path := filepath.Join(playerDir, time.Now().UTC().Format(timestampLayout)+".json.lz4")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file %s: %w", path, err)
	}
	defer file.Close()

	zw := lz4.NewWriter(file)
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress backup for player %s: %w", uuid, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize backup for player %s: %w", uuid, err)
	}

	return path, nil
}

// Quarantine stores a raw document that failed validation and repair, kept
// uncompressed for inspection. Returns the path written.
func (s *Store) Quarantine(id string, raw []byte) (string, error) {
	if id == "" {
		id = "unknown"
	}
	name := fmt.Sprintf("%s-%s.json", id, time.Now().UTC().Format(timestampLayout))
	path := filepath.Join(s.dir, corruptedSubdir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("failed to quarantine corrupted document %s: %w", id, err)
	}
	log.Printf("WARN: Quarantined corrupted document for %s at %s", id, path)
	return path, nil
}

// List returns the backup paths for a player, oldest first.
func (s *Store) List(uuid string) ([]string, error) {
	playerDir := filepath.Join(s.dir, uuid)
	entries, err := os.ReadDir(playerDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list backups for player %s: %w", uuid, err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(playerDir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Restore reads and decompresses a backup file previously written by Write.
func (s *Store) Restore(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup %s: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	zr := lz4.NewReader(file)
	if _, err := io.Copy(&buf, zr); err != nil {
		return nil, fmt.Errorf("failed to decompress backup %s: %w", path, err)
	}
	return buf.Bytes(), nil
}

// Latest returns the most recent backup path for a player, or "" if none exist.
func (s *Store) Latest(uuid string) (string, error) {
	paths, err := s.List(uuid)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", nil
	}
	return paths[len(paths)-1], nil
}
