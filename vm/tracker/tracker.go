// Package tracker implements the VM tracker (spec §4.7): a single JSON
// file at ~/.omerta/vms/active.json holding every VM the local consumer
// currently owns. All mutations serialize through one in-memory map
// guarded by a mutex, then the file is atomically re-serialized.
//
// Grounded on crypto/storage.memoryKeyStorage's map-behind-sync.RWMutex
// Store/Load/Delete/List/Exists shape, generalized here from key pairs
// to VMConnections; the persistence format (explicit version + struct
// slice, YAML/JSON marshal-then-write) follows config.SaveToFile, but
// that function writes directly to the destination path -- this
// package adds the write-temp-then-rename step the spec requires for
// atomicity, since a torn write must never corrupt the on-disk file
// (spec §7).
package tracker

import (
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"sync"

	omertaerrors "github.com/omerta-project/omerta/internal/errors"
	"github.com/omerta-project/omerta/vm/protocol"
)

// SchemaVersion is the current persisted-file schema version.
const SchemaVersion = 1

// RelativePath is where the tracker file lives under the resolved home
// directory.
const RelativePath = ".omerta/vms/active.json"

type persistedFile struct {
	Version int                      `json:"version"`
	VMs     []protocol.VMConnection `json:"vms"`
}

// Tracker owns the in-memory VM connection map and its on-disk mirror.
type Tracker struct {
	mu   sync.RWMutex
	vms  map[string]protocol.VMConnection
	path string
}

// Open resolves the tracker file path (honoring SUDO_USER, spec §4.7),
// creates its directory if missing, loads any previously persisted
// VMs, and returns a ready Tracker.
func Open() (*Tracker, error) {
	home, err := ResolveHomeDir()
	if err != nil {
		return nil, omertaerrors.PersistenceError("resolve home directory", err)
	}
	return OpenAt(filepath.Join(home, RelativePath))
}

// OpenAt is Open with an explicit file path, used by tests and by
// callers that don't want SUDO_USER-aware resolution.
func OpenAt(path string) (*Tracker, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, omertaerrors.PersistenceError("create tracker directory", err)
	}
	t := &Tracker{vms: make(map[string]protocol.VMConnection), path: path}
	if err := t.loadPersistedVMs(); err != nil {
		return nil, err
	}
	return t, nil
}

// ResolveHomeDir returns $SUDO_USER's home directory if set (to avoid
// writing to root's home when the process is running elevated via
// sudo), falling back to $HOME.
func ResolveHomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if home, err := homeOfUser(sudoUser); err == nil && home != "" {
			return home, nil
		}
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("neither SUDO_USER nor HOME resolved to a usable home directory")
	}
	return home, nil
}

func homeOfUser(username string) (string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}

// TrackVM inserts or replaces the connection record for conn.VMID and
// atomically re-persists the map (spec §4.7: "on trackVM/removeVM the
// in-memory map is updated then the file is re-serialized atomically").
func (t *Tracker) TrackVM(conn protocol.VMConnection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.vms[conn.VMID] = conn
	return t.persistLocked()
}

// RemoveVM deletes vmID's tracked connection and atomically re-persists
// the map. Removing an untracked vmID is a no-op, not an error.
func (t *Tracker) RemoveVM(vmID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.vms[vmID]; !ok {
		return nil
	}
	delete(t.vms, vmID)
	return t.persistLocked()
}

// Get returns the tracked connection for vmID, if any.
func (t *Tracker) Get(vmID string) (protocol.VMConnection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	conn, ok := t.vms[vmID]
	return conn, ok
}

// List returns every tracked VM connection, sorted by vmId for
// deterministic output.
func (t *Tracker) List() []protocol.VMConnection {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]protocol.VMConnection, 0, len(t.vms))
	for _, conn := range t.vms {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VMID < out[j].VMID })
	return out
}

// Exists reports whether vmID is currently tracked.
func (t *Tracker) Exists(vmID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.vms[vmID]
	return ok
}

// loadPersistedVMs repopulates the in-memory map from the tracker file,
// if one exists. A missing file is not an error (first run).
func (t *Tracker) loadPersistedVMs() error {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return omertaerrors.PersistenceError("read tracker file", err)
	}
	if len(data) == 0 {
		return nil
	}

	var pf persistedFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return omertaerrors.PersistenceError("parse tracker file", err)
	}
	for _, conn := range pf.VMs {
		t.vms[conn.VMID] = conn
	}
	return nil
}

// persistLocked serializes the current map to disk via a write-temp
// then-rename, so a crash mid-write never leaves a corrupted or
// partially-written active.json (spec §7: "never corrupt the on-disk
// file"). Caller must hold t.mu.
func (t *Tracker) persistLocked() error {
	pf := persistedFile{Version: SchemaVersion, VMs: make([]protocol.VMConnection, 0, len(t.vms))}
	for _, conn := range t.vms {
		pf.VMs = append(pf.VMs, conn)
	}
	sort.Slice(pf.VMs, func(i, j int) bool { return pf.VMs[i].VMID < pf.VMs[j].VMID })

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return omertaerrors.PersistenceError("marshal tracker state", err)
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".active-*.json.tmp")
	if err != nil {
		return omertaerrors.PersistenceError("create temp tracker file", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("write temp tracker file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("close temp tracker file", err)
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return omertaerrors.PersistenceError("rename temp tracker file into place", err)
	}
	return nil
}
