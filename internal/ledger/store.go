package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome is what this client knows about a payment signature.
type Outcome string

const (
	// OutcomeConfirmed: confirmed on chain, not yet attached to a job.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeUnknown: broadcast but never confirmed. Funds may have moved.
	OutcomeUnknown Outcome = "unknown"
	// OutcomeConsumed: attached to a job id.
	OutcomeConsumed Outcome = "consumed"
	// OutcomeRejected: the backend refused the paid submission.
	OutcomeRejected Outcome = "rejected"
)

var ErrSignatureConsumed = errors.New("payment signature already used for a job submission")

// Record holds everything known about one payment signature.
type Record struct {
	Signature string    `json:"signature"`
	Payer     string    `json:"payer"`
	GithubURL string    `json:"githubUrl"`
	JobID     string    `json:"jobId,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store abstracts ledger persistence.
type Store interface {
	Get(ctx context.Context, signature string) (*Record, error)
	Save(ctx context.Context, record Record) error
}

// CheckUnused fails if signature was already attached to, or refused for, a job.
func CheckUnused(ctx context.Context, store Store, signature string) error {
	rec, err := store.Get(ctx, signature)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if rec == nil {
		return nil
	}
	if rec.JobID != "" || rec.Outcome == OutcomeConsumed || rec.Outcome == OutcomeRejected {
		return ErrSignatureConsumed
	}
	return nil
}

// Bind attaches jobID to signature. A signature is bound at most once.
func Bind(ctx context.Context, store Store, signature, jobID string, now time.Time) error {
	rec, err := store.Get(ctx, signature)
	if err != nil {
		return fmt.Errorf("ledger lookup: %w", err)
	}
	if rec == nil {
		rec = &Record{Signature: signature, CreatedAt: now}
	}
	if rec.JobID != "" && rec.JobID != jobID {
		return ErrSignatureConsumed
	}
	rec.JobID = jobID
	rec.Outcome = OutcomeConsumed
	rec.UpdatedAt = now
	return store.Save(ctx, *rec)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
	}
}

func (m *MemoryStore) Get(_ context.Context, signature string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[signature]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.Signature == "" {
		return errors.New("record signature is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[record.Signature] = record
	return nil
}

// FileStore persists records to a JSON file. Suitable for a single local client.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]Record),
	}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.data)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(_ context.Context, signature string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.data[signature]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (f *FileStore) Save(_ context.Context, record Record) error {
	if record.Signature == "" {
		return errors.New("record signature is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[record.Signature] = record
	return f.persist()
}
