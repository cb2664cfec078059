package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/maltedev/bluray-scraper/internal/models"
)

var ErrMissingKey = errors.New("record has no source url")

// keyFields are the record fields accepted as identity, newest first.
var keyFields = []string{"source_url", "blu_ray_url"}

// RecordStore is one output file: a JSON array of records keyed by source
// url. Records loaded from disk are kept verbatim so fields this version
// does not know survive a rewrite.
type RecordStore struct {
	mu       sync.RWMutex
	order    []string
	records  map[string]json.RawMessage
	filename string
}

// NewRecordStore opens filename, loading it when it exists.
func NewRecordStore(filename string) (*RecordStore, error) {
	rs := &RecordStore{
		records:  make(map[string]json.RawMessage),
		filename: filename,
	}

	if err := rs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return rs, nil
}

func (rs *RecordStore) Load() error {
	data, err := os.ReadFile(rs.filename)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse %s: %w", rs.filename, err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, item := range raw {
		key, err := recordKey(item)
		if err != nil {
			// entries without identity cannot be deduplicated; keep them out
			continue
		}
		rs.set(key, item)
	}
	return nil
}

func recordKey(item json.RawMessage) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", err
	}
	for _, name := range keyFields {
		if v, ok := fields[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", ErrMissingKey
}

func (rs *RecordStore) set(key string, item json.RawMessage) {
	if _, exists := rs.records[key]; !exists {
		rs.order = append(rs.order, key)
	}
	rs.records[key] = item
}

// Put adds rec or replaces the record with the same source url.
func (rs *RecordStore) Put(rec *models.Record) error {
	if rec.SourceURL == "" {
		return ErrMissingKey
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.set(rec.SourceURL, data)
	return nil
}

func (rs *RecordStore) Has(url string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.records[url]
	return ok
}

func (rs *RecordStore) Len() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.records)
}

// URLs returns the keys of all records in file order.
func (rs *RecordStore) URLs() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return append([]string(nil), rs.order...)
}

// Get decodes the record stored under url.
func (rs *RecordStore) Get(url string) (*models.Record, bool) {
	rs.mu.RLock()
	item, ok := rs.records[url]
	rs.mu.RUnlock()
	if !ok {
		return nil, false
	}

	var rec models.Record
	if err := json.Unmarshal(item, &rec); err != nil {
		return nil, false
	}
	if rec.SourceURL == "" {
		rec.SourceURL = url
	}
	return &rec, true
}

// Save writes all records to the file.
func (rs *RecordStore) Save() error {
	rs.mu.RLock()
	items := make([]json.RawMessage, 0, len(rs.order))
	for _, key := range rs.order {
		items = append(items, rs.records[key])
	}
	rs.mu.RUnlock()

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	if dir := filepath.Dir(rs.filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	// Write to temp file first for atomicity
	tmpFile := rs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpFile, rs.filename)
}

// FileName is the output file for one series, country and year.
func FileName(dir, series, country string, year int) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%s-%d.json", series, country, year))
}

// Output routes records to the per-year store of their release year.
type Output struct {
	stores map[string]*RecordStore
	years  []int
}

// OpenOutput loads the output files of years from dir.
func OpenOutput(dir, series, country string, years []int) (*Output, error) {
	out := &Output{stores: make(map[string]*RecordStore, len(years)), years: years}
	for _, year := range years {
		rs, err := NewRecordStore(FileName(dir, series, country, year))
		if err != nil {
			return nil, fmt.Errorf("failed to open output for %d: %w", year, err)
		}
		out.stores[strconv.Itoa(year)] = rs
	}
	return out, nil
}

func (o *Output) Put(rec *models.Record) error {
	rs, ok := o.stores[rec.ReleaseYear]
	if !ok {
		return fmt.Errorf("no output file for release year %q", rec.ReleaseYear)
	}
	return rs.Put(rec)
}

// URLs returns every source url already present in any output file.
func (o *Output) URLs() []string {
	var urls []string
	for _, year := range o.years {
		urls = append(urls, o.stores[strconv.Itoa(year)].URLs()...)
	}
	return urls
}

func (o *Output) Len() int {
	n := 0
	for _, rs := range o.stores {
		n += rs.Len()
	}
	return n
}

// Save writes every file and returns the first error after trying all.
func (o *Output) Save() error {
	var errs []error
	for _, year := range o.years {
		if err := o.stores[strconv.Itoa(year)].Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save %d: %w", year, err))
		}
	}
	return errors.Join(errs...)
}
