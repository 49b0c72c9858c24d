package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ratekeeper/internal/models"
)

// JSONStorage implements the Storage interface using a single JSON file for
// persistence. It keeps an in-memory cache that is refreshed when the file's
// modification time changes, and rewrites the file atomically on every mutation.
type JSONStorage struct {
	filePath     string
	namespace    string
	cacheTTL     time.Duration
	mu           sync.RWMutex
	data         *JSONData
	lastModified time.Time
	cacheExpiry  time.Time
}

// JSONData represents the structure of data stored in JSON format.
// Records are grouped by namespace, then by key.
type JSONData struct {
	Namespaces  map[string]map[string]*models.StateRecord `json:"namespaces"`
	LastUpdated time.Time                                 `json:"last_updated"`
}

// NewJSONStorage creates a new JSON-based storage instance
func NewJSONStorage(config Config) (*JSONStorage, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("path is required for JSON storage")
	}

	cacheTTL := 5 * time.Second
	if raw, ok := config.Options["cache_ttl"].(string); ok && raw != "" {
		if duration, err := time.ParseDuration(raw); err == nil {
			cacheTTL = duration
		}
	}

	storage := &JSONStorage{
		filePath:  config.Path,
		namespace: config.namespace(),
		cacheTTL:  cacheTTL,
	}

	// Initialize with empty data if file doesn't exist
	if err := storage.ensureFileExists(); err != nil {
		return nil, fmt.Errorf("failed to ensure file exists: %w", err)
	}

	// Load initial data
	if err := storage.loadData(); err != nil {
		return nil, fmt.Errorf("failed to load initial data: %w", err)
	}

	return storage, nil
}

// ensureFileExists creates the JSON file with empty data if it doesn't exist
func (j *JSONStorage) ensureFileExists() error {
	if _, err := os.Stat(j.filePath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(j.filePath), 0700); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}

		return j.saveData(&JSONData{Namespaces: map[string]map[string]*models.StateRecord{}})
	}
	return nil
}

// loadData loads data from the JSON file with caching.
// It uses double-checked locking: a fast read-lock path for cache hits,
// and a write-lock slow path with re-validation to prevent TOCTOU races.
func (j *JSONStorage) loadData() error {
	j.mu.RLock()
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		j.mu.RUnlock()
		return nil
	}
	j.mu.RUnlock()

	j.mu.Lock()
	defer j.mu.Unlock()

	// Another goroutine may have loaded while we waited for the write lock.
	if j.data != nil && time.Now().Before(j.cacheExpiry) {
		return nil
	}

	info, err := os.Stat(j.filePath)
	if err != nil {
		return fmt.Errorf("%w: failed to stat file: %v", ErrUnavailable, err)
	}

	// If the file hasn't changed, extend the cache and return.
	if j.data != nil && !info.ModTime().After(j.lastModified) {
		j.cacheExpiry = time.Now().Add(j.cacheTTL)
		return nil
	}

	fileData, err := os.ReadFile(j.filePath)
	if err != nil {
		return fmt.Errorf("%w: failed to read file: %v", ErrUnavailable, err)
	}

	var data JSONData
	if err := json.Unmarshal(fileData, &data); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if data.Namespaces == nil {
		data.Namespaces = map[string]map[string]*models.StateRecord{}
	}

	j.data = &data
	j.lastModified = info.ModTime()
	j.cacheExpiry = time.Now().Add(j.cacheTTL)
	return nil
}

// saveData writes data to a temporary file and renames it over the target,
// so a crash mid-write never leaves a truncated file behind.
func (j *JSONStorage) saveData(data *JSONData) error {
	data.LastUpdated = time.Now()

	fileData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(j.filePath), filepath.Base(j.filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", ErrUnavailable, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(fileData); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to write file: %v", ErrUnavailable, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: failed to sync file: %v", ErrUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: failed to close file: %v", ErrUnavailable, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("%w: failed to chmod file: %v", ErrUnavailable, err)
	}
	if err := os.Rename(tmpName, j.filePath); err != nil {
		return fmt.Errorf("%w: failed to replace file: %v", ErrUnavailable, err)
	}

	if info, err := os.Stat(j.filePath); err == nil {
		j.lastModified = info.ModTime()
	}
	return nil
}

// Get returns a copy of the record stored for key
func (j *JSONStorage) Get(ctx context.Context, key string) (*models.StateRecord, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	record, exists := j.data.Namespaces[j.namespace][key]
	if !exists {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

// Put stores record and rewrites the file
func (j *JSONStorage) Put(ctx context.Context, record *models.StateRecord) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records, exists := j.data.Namespaces[j.namespace]
	if !exists {
		records = make(map[string]*models.StateRecord)
		j.data.Namespaces[j.namespace] = records
	}

	previous, hadPrevious := records[record.Key]
	records[record.Key] = record.Clone()

	if err := j.saveData(j.data); err != nil {
		// Keep the cache consistent with what is on disk.
		if hadPrevious {
			records[record.Key] = previous
		} else {
			delete(records, record.Key)
		}
		return err
	}
	return nil
}

// Delete removes the record for key and rewrites the file
func (j *JSONStorage) Delete(ctx context.Context, key string) error {
	if err := j.loadData(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	records := j.data.Namespaces[j.namespace]
	previous, exists := records[key]
	if !exists {
		return nil
	}

	delete(records, key)
	if err := j.saveData(j.data); err != nil {
		records[key] = previous
		return err
	}
	return nil
}

// List returns copies of every record in the namespace
func (j *JSONStorage) List(ctx context.Context) ([]*models.StateRecord, error) {
	if err := j.loadData(); err != nil {
		return nil, err
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	records := j.data.Namespaces[j.namespace]
	result := make([]*models.StateRecord, 0, len(records))
	for _, record := range records {
		result = append(result, record.Clone())
	}
	return result, nil
}

// Ping verifies the backing file is still readable.
func (j *JSONStorage) Ping(_ context.Context) error {
	if _, err := os.Stat(j.filePath); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the storage connection and cleans up resources
func (j *JSONStorage) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Clear cache
	j.data = nil
	j.cacheExpiry = time.Time{}

	return nil
}
