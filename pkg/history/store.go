package history

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Record is one delivered query with its routing decision and outcome.
type Record struct {
	QueryID    string    `json:"query_id"`
	QueryText  string    `json:"query_text"`
	Path       string    `json:"path"`
	Confidence float64   `json:"confidence"`
	Strategy   string    `json:"strategy"`
	Response   string    `json:"response"`
	Sources    []string  `json:"sources,omitempty"`
	Partial    bool      `json:"partial,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store keeps delivered responses in a content-addressed archive with an
// append-only time index, so identical answers share one object.
type Store struct {
	BasePath string

	mu sync.Mutex
}

// NewStore creates a history store. An empty basePath defaults to
// ~/.dualtrack/history.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Join(home, ".dualtrack", "history")
	}

	for _, d := range []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "indexes"),
	} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, err
		}
	}

	return &Store{BasePath: basePath}, nil
}

// Append stores a record by its SHA256 content hash in a sharded
// directory and logs the hash in the time index. Returns the hash.
func (s *Store) Append(rec Record) (string, error) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	// Shard by first 2 chars
	shard := hash[:2]
	dir := filepath.Join(s.BasePath, "objects", shard)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, hash+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := os.OpenFile(filepath.Join(s.BasePath, "indexes", "log"),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer idx.Close()
	if _, err := fmt.Fprintf(idx, "%s %s\n", rec.CreatedAt.Format(time.RFC3339Nano), hash); err != nil {
		return "", err
	}
	return hash, nil
}

// Recent returns the last n records, newest last. A missing index means
// an empty history, not an error.
func (s *Store) Recent(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	hashes, err := s.tailHashes(n)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(hashes))
	for _, hash := range hashes {
		rec, err := s.load(hash)
		if err != nil {
			// Skip objects pruned out from under the index.
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Get loads one record by content hash.
func (s *Store) Get(hash string) (Record, error) {
	return s.load(hash)
}

func (s *Store) tailHashes(n int) ([]string, error) {
	f, err := os.Open(filepath.Join(s.BasePath, "indexes", "log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var hashes []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 2 {
			continue
		}
		hashes = append(hashes, fields[1])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(hashes) > n {
		hashes = hashes[len(hashes)-n:]
	}
	return hashes, nil
}

func (s *Store) load(hash string) (Record, error) {
	if len(hash) < 3 {
		return Record{}, fmt.Errorf("invalid history hash %q", hash)
	}
	path := filepath.Join(s.BasePath, "objects", hash[:2], hash+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}
