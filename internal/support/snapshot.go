package support

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobdam/agentdesk/internal/fileutil"
)

const snapshotFileName = "session.json"

// Snapshot is the persisted session state. It mirrors the in-memory session
// after every mutation so a crashed or restarted console resumes where it
// left off.
type Snapshot struct {
	ActiveRoom    string    `json:"activeRoom,omitempty"`
	UserConnected bool      `json:"userConnected"`
	AcceptedRooms []string  `json:"acceptedRooms,omitempty"`
	Transcript    []Line    `json:"transcript,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SnapshotStore reads and writes the session snapshot under a state
// directory. Writes are atomic (temp file + rename) so a crash mid-write
// never leaves a corrupt snapshot behind.
type SnapshotStore struct {
	mu  sync.Mutex
	dir string
}

// NewSnapshotStore creates a store rooted at dir. The directory is created
// on the first Save.
func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir}
}

// Path returns the snapshot file path.
func (s *SnapshotStore) Path() string {
	return filepath.Join(s.dir, snapshotFileName)
}

// Load reads the persisted snapshot. A missing file is not an error; it
// returns a zero snapshot.
func (s *SnapshotStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	if err := fileutil.ReadJSON(s.Path(), &snap); err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("load session snapshot: %w", err)
	}
	return snap, nil
}

// Save writes the snapshot, stamping UpdatedAt.
func (s *SnapshotStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	snap.UpdatedAt = time.Now()
	if err := fileutil.WriteJSONAtomic(s.Path(), snap, 0644); err != nil {
		return fmt.Errorf("save session snapshot: %w", err)
	}
	return nil
}

// Reset removes the persisted snapshot. A missing file is not an error.
func (s *SnapshotStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset session snapshot: %w", err)
	}
	return nil
}
