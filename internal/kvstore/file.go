package kvstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	cacheerrors "github.com/recipeapp/recipecache/pkg/errors"
)

const defaultIndexFile = "kv-index.json"

// FileStoreConfig represents file store configuration
type FileStoreConfig struct {
	Directory   string `yaml:"directory"`
	Compression bool   `yaml:"compression"`
	IndexFile   string `yaml:"index_file"`
}

// FileStore keeps one file per key under a directory, indexed by a JSON file
// that is replaced atomically on every mutation.
type FileStore struct {
	mu        sync.RWMutex
	directory string
	config    FileStoreConfig
	index     map[string]*fileEntry
	logger    *slog.Logger
	closed    bool
}

type fileEntry struct {
	Key        string    `json:"key"`
	FilePath   string    `json:"file_path"`
	Size       int64     `json:"size"`
	UpdatedAt  time.Time `json:"updated_at"`
	Compressed bool      `json:"compressed"`
	Checksum   string    `json:"checksum"`
}

// NewFileStore opens (or creates) a file store rooted at cfg.Directory.
func NewFileStore(cfg FileStoreConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("file store directory cannot be empty")
	}
	if cfg.IndexFile == "" {
		cfg.IndexFile = defaultIndexFile
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.Directory, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &FileStore{
		directory: cfg.Directory,
		config:    cfg,
		index:     make(map[string]*fileEntry),
		logger:    logger.With("component", "kvstore", "backend", "file"),
	}

	if err := s.loadIndex(); err != nil {
		// A broken index only loses the mapping; start over.
		s.logger.Warn("Discarding unreadable store index", "error", err)
		s.index = make(map[string]*fileEntry)
	}

	return s, nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, exists := s.index[key]
	s.mu.RUnlock()

	if !exists {
		return "", false, nil
	}

	data, err := s.readFromFile(entry)
	if err != nil {
		// Missing or corrupted file: drop it and report a miss.
		s.logger.Warn("Dropping unreadable store entry", "key", key, "error", err)
		s.mu.Lock()
		delete(s.index, key)
		_ = os.Remove(entry.FilePath)
		_ = s.saveIndex()
		s.mu.Unlock()
		return "", false, nil
	}

	return string(data), true, nil
}

func (s *FileStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return cacheerrors.NewError(cacheerrors.ErrCodeInvalidState, "file store is closed")
	}

	data := []byte(value)
	entry := &fileEntry{
		Key:        key,
		FilePath:   s.generateFilePath(key),
		UpdatedAt:  time.Now(),
		Compressed: s.config.Compression,
		Checksum:   calculateChecksum(data),
	}

	size, err := s.writeToFile(entry, data)
	if err != nil {
		return translateWriteError(err, key)
	}
	entry.Size = size

	s.index[key] = entry
	if err := s.saveIndex(); err != nil {
		return translateWriteError(err, key)
	}
	return nil
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.index[key]
	if !exists {
		return nil
	}

	if err := os.Remove(entry.FilePath); err != nil && !os.IsNotExist(err) {
		return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "failed to remove store file").
			WithDetail("key", key)
	}
	delete(s.index, key)
	return s.saveIndex()
}

func (s *FileStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range s.index {
		_ = os.Remove(entry.FilePath) // Ignore error on cleanup
	}
	s.index = make(map[string]*fileEntry)
	return s.saveIndex()
}

// Usage sums the on-disk size of all entries. The file store has no quota of
// its own; wrap it in a QuotaStore for one.
func (s *FileStore) Usage(_ context.Context) (int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var used int64
	for _, entry := range s.index {
		used += entry.Size
	}
	return used, 0, nil
}

// Close syncs the index. Further writes fail.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveIndex()
}

// Helper methods

func (s *FileStore) generateFilePath(key string) string {
	hash := sha256.Sum256([]byte(key))
	filename := fmt.Sprintf("%x", hash[:12])
	return filepath.Join(s.directory, filename+".kv")
}

func calculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

func translateWriteError(err error, key string) error {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT) {
		return cacheerrors.StorageFull(key, err).WithComponent("kvstore")
	}
	return cacheerrors.Wrap(err, cacheerrors.ErrCodeStorageWrite, "failed to write store file").
		WithComponent("kvstore").
		WithDetail("key", key)
}

func (s *FileStore) writeToFile(entry *fileEntry, data []byte) (int64, error) {
	var buf bytes.Buffer
	if entry.Compressed {
		gzipWriter := gzip.NewWriter(&buf)
		if _, err := gzipWriter.Write(data); err != nil {
			return 0, err
		}
		if err := gzipWriter.Close(); err != nil {
			return 0, err
		}
	} else {
		buf.Write(data)
	}

	tmpPath := entry.FilePath + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		_ = os.Remove(tmpPath) // Clean up on error, ignore result
		return 0, err
	}

	// Atomic replace
	if err := os.Rename(tmpPath, entry.FilePath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, err
	}

	return int64(buf.Len()), nil
}

func (s *FileStore) readFromFile(entry *fileEntry) ([]byte, error) {
	file, err := os.Open(entry.FilePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var reader io.Reader = file

	if entry.Compressed {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, err
		}
		defer func() { _ = gzipReader.Close() }()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if calculateChecksum(data) != entry.Checksum {
		return nil, fmt.Errorf("checksum mismatch for store file")
	}

	return data, nil
}

func (s *FileStore) indexPath() (string, error) {
	indexPath := filepath.Join(s.directory, s.config.IndexFile)
	if !strings.HasPrefix(filepath.Clean(indexPath), filepath.Clean(s.directory)) {
		return "", fmt.Errorf("invalid index file path: %s", indexPath)
	}
	return indexPath, nil
}

func (s *FileStore) loadIndex() error {
	indexPath, err := s.indexPath()
	if err != nil {
		return err
	}

	file, err := os.Open(indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No existing index, start fresh
		}
		return err
	}
	defer func() { _ = file.Close() }()

	var entries map[string]*fileEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return err
	}

	for key, entry := range entries {
		if _, err := os.Stat(entry.FilePath); os.IsNotExist(err) {
			continue // Skip missing files
		}
		s.index[key] = entry
	}

	return nil
}

func (s *FileStore) saveIndex() error {
	indexPath, err := s.indexPath()
	if err != nil {
		return err
	}

	data, err := json.Marshal(s.index)
	if err != nil {
		return err
	}

	tmpPath := indexPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		_ = os.Remove(tmpPath) // Ignore cleanup error
		return err
	}

	// Atomic replace
	return os.Rename(tmpPath, indexPath)
}
