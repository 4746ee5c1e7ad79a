package result

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/cloud-bulldozer/pmem-netperf/pkg/config"
	log "github.com/cloud-bulldozer/pmem-netperf/pkg/logging"
	"github.com/cloud-bulldozer/pmem-netperf/pkg/sample"
)

// Document is the persisted shape: message size -> benchmark -> threads -> sample.
// Keys are the decimal string form of the coordinates.
type Document map[string]map[string]map[string]sample.Sample

// PersistenceError means the result document could not be read or written.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("unable to %s results %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Get returns the record stored for p.
func (d Document) Get(p config.Point) (sample.Sample, bool) {
	size, bench, threads := p.Keys()
	s, ok := d[size][bench][threads]
	return s, ok
}

// Set inserts or overwrites the record for p.
func (d Document) Set(p config.Point, s sample.Sample) {
	size, bench, threads := p.Keys()
	if d[size] == nil {
		d[size] = make(map[string]map[string]sample.Sample)
	}
	if d[size][bench] == nil {
		d[size][bench] = make(map[string]sample.Sample)
	}
	d[size][bench][threads] = s
}

// Len counts the leaf records.
func (d Document) Len() int {
	n := 0
	for _, benches := range d {
		for _, threads := range benches {
			n += len(threads)
		}
	}
	return n
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	c := make(Document, len(d))
	for size, benches := range d {
		c[size] = make(map[string]map[string]sample.Sample, len(benches))
		for bench, threads := range benches {
			c[size][bench] = make(map[string]sample.Sample, len(threads))
			for t, s := range threads {
				c[size][bench][t] = s
			}
		}
	}
	return c
}

// Points lists the stored coordinates, sorted numerically by size and threads.
// Keys that are not decimal integers are skipped.
func (d Document) Points() []config.Point {
	var points []config.Point
	for sizeKey, benches := range d {
		size, err := strconv.Atoi(sizeKey)
		if err != nil {
			log.Debugf("Skipping message size key %q: %v", sizeKey, err)
			continue
		}
		for bench, threads := range benches {
			for threadKey := range threads {
				t, err := strconv.Atoi(threadKey)
				if err != nil {
					log.Debugf("Skipping threads key %q: %v", threadKey, err)
					continue
				}
				points = append(points, config.Point{MessageSize: size, Benchmark: bench, Threads: t})
			}
		}
	}
	sort.Slice(points, func(i, j int) bool {
		a, b := points[i], points[j]
		if a.MessageSize != b.MessageSize {
			return a.MessageSize < b.MessageSize
		}
		if a.Benchmark != b.Benchmark {
			return a.Benchmark < b.Benchmark
		}
		return a.Threads < b.Threads
	})
	return points
}

// rawDocument mirrors Document with undecoded leaves, so a save writes
// records it did not touch back exactly as they were read.
type rawDocument map[string]map[string]map[string]json.RawMessage

func (d rawDocument) set(p config.Point, rec json.RawMessage) {
	size, bench, threads := p.Keys()
	if d[size] == nil {
		d[size] = make(map[string]map[string]json.RawMessage)
	}
	if d[size][bench] == nil {
		d[size][bench] = make(map[string]json.RawMessage)
	}
	d[size][bench][threads] = rec
}

// Store is the result document on disk. It assumes a single writer: the
// file is not locked, concurrent writers from other processes can lose updates.
// Keys other tooling added to a record survive saves of other points; the
// record of a point that is re-run is replaced as a whole.
type Store struct {
	path string

	mu  sync.Mutex
	doc Document
}

// Open loads the document at path, or starts empty when there is none yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path of the backing file
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (Document, rawDocument, error) {
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, rawDocument{}, nil
	}
	if err != nil {
		return nil, nil, &PersistenceError{Path: s.path, Op: "read", Err: err}
	}
	if len(bytes.TrimSpace(buf)) == 0 {
		return Document{}, rawDocument{}, nil
	}
	doc := Document{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, nil, &PersistenceError{Path: s.path, Op: "decode", Err: err}
	}
	raw := rawDocument{}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, nil, &PersistenceError{Path: s.path, Op: "decode", Err: err}
	}
	return doc, raw, nil
}

func (s *Store) write(doc rawDocument) error {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "encode", Err: err}
	}
	buf = append(buf, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return &PersistenceError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

// Load re-reads the document from disk.
func (s *Store) Load() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, _, err := s.read()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return doc.Clone(), nil
}

// MergeAndSave reloads the document, sets the record for p and writes the
// whole document back. Other entries on disk are left as they were.
func (s *Store) MergeAndSave(p config.Point, rec sample.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, raw, err := s.read()
	if err != nil {
		return err
	}
	leaf, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Path: s.path, Op: "encode", Err: err}
	}
	doc.Set(p, rec)
	raw.set(p, leaf)
	if err := s.write(raw); err != nil {
		return err
	}
	s.doc = doc
	log.Debugf("💾 Stored %s in %s", p, s.path)
	return nil
}

// Get returns the record last seen for p.
func (s *Store) Get(p config.Point) (sample.Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Get(p)
}

// Has reports whether p has a record.
func (s *Store) Has(p config.Point) bool {
	_, ok := s.Get(p)
	return ok
}

// Len counts the records last seen.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Len()
}

// Document returns a copy of the records last seen.
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}
