package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Project is one entry in the recent-projects registry the IDE shows on
// its open screen.
type Project struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updated_at"`
	IsSSH     bool      `json:"is_ssh,omitempty"`

	// SSHInfo is the "user@host[:port]" part for remote projects, kept
	// so the client can offer reconnect without retyping.
	SSHInfo string `json:"ssh_info,omitempty"`
}

// Projects is the registry, persisted as a single JSON file under the
// state directory.
type Projects struct {
	path string

	mu   sync.Mutex
	list []Project
}

// LoadProjects reads (or initializes) the registry at
// <state-dir>/projects.json.
func LoadProjects(stateDir string) (*Projects, error) {
	p := &Projects{path: filepath.Join(stateDir, "projects.json")}
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read projects registry: %w", err)
	}
	if err := json.Unmarshal(data, &p.list); err != nil {
		return nil, fmt.Errorf("decode projects registry: %w", err)
	}
	return p, nil
}

// List returns projects newest first.
func (p *Projects) List() []Project {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]Project(nil), p.list...)
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Touch records (or refreshes) a project entry and persists.
func (p *Projects) Touch(path string, isSSH bool, sshInfo string) error {
	p.mu.Lock()
	now := time.Now()
	found := false
	for i := range p.list {
		if p.list[i].Path == path && p.list[i].IsSSH == isSSH {
			p.list[i].UpdatedAt = now
			p.list[i].SSHInfo = sshInfo
			found = true
			break
		}
	}
	if !found {
		p.list = append(p.list, Project{
			Path:      path,
			Name:      filepath.Base(path),
			UpdatedAt: now,
			IsSSH:     isSSH,
			SSHInfo:   sshInfo,
		})
	}
	p.mu.Unlock()
	return p.save()
}

// Remove deletes a project entry and persists.
func (p *Projects) Remove(path string) error {
	p.mu.Lock()
	kept := p.list[:0]
	for _, proj := range p.list {
		if proj.Path != path {
			kept = append(kept, proj)
		}
	}
	p.list = kept
	p.mu.Unlock()
	return p.save()
}

func (p *Projects) save() error {
	p.mu.Lock()
	data, err := json.MarshalIndent(p.list, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode projects registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write projects registry: %w", err)
	}
	return os.Rename(tmp, p.path)
}
