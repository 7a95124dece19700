// Package checkpoint stores pre-mutation file baselines so any subset of
// agent-written changes can be reverted, per step or cumulatively.
//
// Baselines are interned by content hash: two checkpoints that captured
// the same bytes for a path share one blob. A checkpoint's Files map
// stores the baseline for every path first touched while that checkpoint
// was active; later mutations of the same path within the same
// checkpoint never overwrite the stored baseline.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Baseline references the pre-mutation content of one path.
type Baseline struct {
	// Hash keys the interned blob. Empty when the file did not exist.
	Hash string `json:"hash,omitempty"`

	// Existed is false for files created by the agent; reverting such
	// a path deletes it.
	Existed bool `json:"existed"`
}

// Checkpoint is a named snapshot of the files touched while it was active.
type Checkpoint struct {
	ID        string              `json:"id"`
	Label     string              `json:"label"`
	StepIndex int                 `json:"step_index,omitempty"`
	Files     map[string]Baseline `json:"files"`
	CreatedAt time.Time           `json:"created_at"`
	Sealed    bool                `json:"sealed"`
}

// RestoreOp is one filesystem action produced by a restore.
type RestoreOp struct {
	Path    string
	Content []byte
	Delete  bool
}

// Store owns the checkpoints and interned baselines of one session.
// It is accessed only from the owning session's actor.
type Store struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	list   []*Checkpoint
	active *Checkpoint
}

// NewStore creates an empty checkpoint store.
func NewStore() *Store {
	return &Store{blobs: make(map[string][]byte)}
}

// Open starts a new active checkpoint. An unsealed active checkpoint is
// sealed first so a step boundary always freezes the previous set.
func (s *Store) Open(label string, stepIndex int) *Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.Sealed = true
	}
	cp := &Checkpoint{
		ID:        uuid.NewString(),
		Label:     label,
		StepIndex: stepIndex,
		Files:     make(map[string]Baseline),
		CreatedAt: time.Now(),
	}
	s.list = append(s.list, cp)
	s.active = cp
	return cp
}

// Seal freezes the active checkpoint. Further Record calls are dropped
// until the next Open.
func (s *Store) Seal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		s.active.Sealed = true
		s.active = nil
	}
}

// Active reports whether an unsealed checkpoint is receiving baselines.
func (s *Store) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Record captures the pre-mutation baseline of path under the active
// checkpoint. The first recording per path and checkpoint wins.
func (s *Store) Record(path string, content []byte, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	if _, ok := s.active.Files[path]; ok {
		return
	}
	baseline := Baseline{Existed: existed}
	if existed {
		baseline.Hash = s.intern(content)
	}
	s.active.Files[path] = baseline
}

func (s *Store) intern(content []byte) string {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])
	if _, ok := s.blobs[hash]; !ok {
		s.blobs[hash] = append([]byte(nil), content...)
	}
	return hash
}

// List returns the checkpoints in creation order.
func (s *Store) List() []*Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Checkpoint, len(s.list))
	copy(out, s.list)
	return out
}

// Get returns the checkpoint with the given id.
func (s *Store) Get(id string) (*Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.list {
		if cp.ID == id {
			return cp, true
		}
	}
	return nil, false
}

// ByStep returns the checkpoint recorded for the given 1-based step.
func (s *Store) ByStep(step int) (*Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.list {
		if cp.StepIndex == step {
			return cp, true
		}
	}
	return nil, false
}

// Baseline returns the stored bytes for path in the given checkpoint.
func (s *Store) Baseline(cp *Checkpoint, path string) ([]byte, Baseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := cp.Files[path]
	if !ok {
		return nil, Baseline{}, false
	}
	if !b.Existed {
		return nil, b, true
	}
	blob, ok := s.blobs[b.Hash]
	if !ok {
		return nil, b, false
	}
	return append([]byte(nil), blob...), b, true
}

// Ops returns the restore operations for the given checkpoints. When a
// path appears in several checkpoints, the earliest baseline wins — the
// cumulative baseline for a path is its content before the first
// mutation of the turn.
func (s *Store) Ops(ids ...string) ([]RestoreOp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	seen := make(map[string]bool)
	var ops []RestoreOp
	for _, cp := range s.list {
		if len(want) > 0 && !want[cp.ID] {
			continue
		}
		for path, b := range cp.Files {
			if seen[path] {
				continue
			}
			seen[path] = true
			if !b.Existed {
				ops = append(ops, RestoreOp{Path: path, Delete: true})
				continue
			}
			blob, ok := s.blobs[b.Hash]
			if !ok {
				return nil, fmt.Errorf("checkpoint %s: missing baseline blob for %s", cp.ID, path)
			}
			ops = append(ops, RestoreOp{Path: path, Content: append([]byte(nil), blob...)})
		}
	}
	return ops, nil
}

// OpsAfterStep returns restore operations for every checkpoint recorded
// after the named 1-based step, and whether any such checkpoint exists.
func (s *Store) OpsAfterStep(step int) ([]RestoreOp, bool, error) {
	s.mu.Lock()
	var ids []string
	for _, cp := range s.list {
		if cp.StepIndex > step {
			ids = append(ids, cp.ID)
		}
	}
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil, false, nil
	}
	ops, err := s.Ops(ids...)
	return ops, true, err
}

// Drop removes the named checkpoints and garbage-collects blobs no
// remaining checkpoint references.
func (s *Store) Drop(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := s.list[:0]
	for _, cp := range s.list {
		if drop[cp.ID] {
			if s.active == cp {
				s.active = nil
			}
			continue
		}
		kept = append(kept, cp)
	}
	s.list = kept

	live := make(map[string]bool)
	for _, cp := range s.list {
		for _, b := range cp.Files {
			if b.Hash != "" {
				live[b.Hash] = true
			}
		}
	}
	for hash := range s.blobs {
		if !live[hash] {
			delete(s.blobs, hash)
		}
	}
}

// Reset discards all checkpoints and blobs.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = nil
	s.active = nil
	s.blobs = make(map[string][]byte)
}

// Snapshot captures the store for persistence. Blobs are inlined; the
// session file is the unit of durability.
type Snapshot struct {
	Checkpoints []*Checkpoint     `json:"checkpoints,omitempty"`
	Blobs       map[string][]byte `json:"blobs,omitempty"`
}

// Snapshot returns a deep copy safe to serialize outside the lock.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{Blobs: make(map[string][]byte, len(s.blobs))}
	for _, cp := range s.list {
		dup := *cp
		dup.Files = make(map[string]Baseline, len(cp.Files))
		for k, v := range cp.Files {
			dup.Files[k] = v
		}
		snap.Checkpoints = append(snap.Checkpoints, &dup)
	}
	for hash, blob := range s.blobs {
		snap.Blobs[hash] = append([]byte(nil), blob...)
	}
	return snap
}

// Load replaces the store contents from a snapshot.
func (s *Store) Load(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = nil
	s.active = nil
	s.blobs = make(map[string][]byte, len(snap.Blobs))
	for hash, blob := range snap.Blobs {
		s.blobs[hash] = append([]byte(nil), blob...)
	}
	for _, cp := range snap.Checkpoints {
		dup := *cp
		dup.Files = make(map[string]Baseline, len(cp.Files))
		for k, v := range cp.Files {
			dup.Files[k] = v
		}
		dup.Sealed = true
		s.list = append(s.list, &dup)
	}
}
