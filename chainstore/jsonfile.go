package chainstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
)

// SchemaVersion is the current persisted-file schema version.
const SchemaVersion = 1

type persistedFile struct {
	Version     int                     `json:"version"`
	Checkpoints map[string][]Checkpoint `json:"checkpoints"`
}

// JSONFileStore is the default witness chain store backend: one JSON
// file holding every peer's chain, written with the same
// write-temp-then-rename atomicity as vm/tracker.Tracker.
type JSONFileStore struct {
	mu     sync.Mutex
	chains map[string][]Checkpoint
	path   string
}

// OpenJSONFile loads (or creates) a JSONFileStore at path.
func OpenJSONFile(path string) (*JSONFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, omertaerrors.PersistenceError("create chain store directory", err)
	}
	s := &JSONFileStore{chains: make(map[string][]Checkpoint), path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return omertaerrors.PersistenceError("read chain store file", err)
	}
	if len(data) == 0 {
		return nil
	}
	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return omertaerrors.PersistenceError("parse chain store file", err)
	}
	for peerID, chain := range pf.Checkpoints {
		s.chains[peerID] = chain
	}
	return nil
}

func (s *JSONFileStore) persistLocked() error {
	pf := persistedFile{Version: SchemaVersion, Checkpoints: s.chains}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return omertaerrors.PersistenceError("marshal chain store state", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".chainstore-*.json.tmp")
	if err != nil {
		return omertaerrors.PersistenceError("create temp chain store file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("write temp chain store file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("close temp chain store file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("rename temp chain store file into place", err)
	}
	return nil
}

func (s *JSONFileStore) Append(ctx context.Context, peerID, hash string) (Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[peerID]
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}

	cp := Checkpoint{
		PeerID:     peerID,
		Sequence:   len(chain),
		Hash:       hash,
		PrevHash:   prevHash,
		RecordedAt: time.Now().UTC(),
	}
	s.chains[peerID] = append(chain, cp)

	if err := s.persistLocked(); err != nil {
		return Checkpoint{}, err
	}
	return cp, nil
}

func (s *JSONFileStore) Latest(ctx context.Context, peerID string) (Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[peerID]
	if len(chain) == 0 {
		return Checkpoint{}, false, nil
	}
	return chain[len(chain)-1], true, nil
}

func (s *JSONFileStore) Chain(ctx context.Context, peerID string) ([]Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := append([]Checkpoint(nil), s.chains[peerID]...)
	sort.Slice(chain, func(i, j int) bool { return chain[i].Sequence < chain[j].Sequence })
	return chain, nil
}

func (s *JSONFileStore) ContainsHash(ctx context.Context, peerID, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cp := range s.chains[peerID] {
		if cp.Hash == hash {
			return true, nil
		}
	}
	return false, nil
}
