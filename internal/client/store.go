package client

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Preferences 客户端偏好设置
type Preferences struct {
	AutoDownload bool   `yaml:"autoDownload" json:"autoDownload"`
	AutoSave     bool   `yaml:"autoSave" json:"autoSave"`
	DownloadDir  string `yaml:"downloadDir" json:"downloadDir"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		AutoDownload: false,
		AutoSave:     true,
		DownloadDir:  ".",
	}
}

// Snapshot is everything a client session keeps between runs.
type Snapshot struct {
	State       State       `yaml:"state"`
	Preferences Preferences `yaml:"preferences"`
	Token       string      `yaml:"token,omitempty"`
}

func defaultSnapshot() Snapshot {
	return Snapshot{State: DefaultState(), Preferences: DefaultPreferences()}
}

type Persister interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FilePersister stores the snapshot as YAML at Path.
type FilePersister struct {
	Path string
}

func NewFilePersister(path string) *FilePersister {
	return &FilePersister{Path: path}
}

// DefaultStatePath 返回 $XDG_CONFIG_HOME/nexus/state.yaml
func DefaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "nexus", "state.yaml")
}

// Load decodes the file over the defaults, so keys missing from the file keep
// their default values. A missing file is not an error.
func (p *FilePersister) Load() (Snapshot, error) {
	snapshot := defaultSnapshot()
	raw, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snapshot, nil
		}
		return snapshot, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &snapshot); err != nil {
		return defaultSnapshot(), fmt.Errorf("decode state file: %w", err)
	}
	if snapshot.State.History == nil {
		snapshot.State.History = []HistoryEntry{}
	}
	if snapshot.State.Favorites == nil {
		snapshot.State.Favorites = []string{}
	}
	return snapshot, nil
}

func (p *FilePersister) Save(snapshot Snapshot) error {
	raw, err := yaml.Marshal(&snapshot)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if dir := filepath.Dir(p.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := p.Path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return os.Rename(tmp, p.Path)
}

// Store owns the session state. Every change is reduced and then persisted;
// persistence failures are logged and never surface to the caller.
type Store struct {
	mu        sync.RWMutex
	snapshot  Snapshot
	persister Persister
}

// NewStore rehydrates from persister. A nil persister keeps the state in memory.
func NewStore(persister Persister) *Store {
	s := &Store{snapshot: defaultSnapshot(), persister: persister}
	if persister == nil {
		return s
	}
	snapshot, err := persister.Load()
	if err != nil {
		logrus.WithError(err).Warn("failed to load client state, using defaults")
	}
	s.snapshot = snapshot
	return s
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.State.clone()
}

func (s *Store) Dispatch(action Action) State {
	s.mu.Lock()
	s.snapshot.State = Reduce(s.snapshot.State, action)
	next := s.snapshot.State.clone()
	s.persistLocked()
	s.mu.Unlock()
	return next
}

func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Preferences
}

func (s *Store) SetPreferences(prefs Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Preferences = prefs
	s.persistLocked()
}

// Token returns the stored bearer token, empty when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Token
}

func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Token = token
	s.persistLocked()
}

func (s *Store) persistLocked() {
	if s.persister == nil {
		return
	}
	snapshot := s.snapshot
	snapshot.State = s.snapshot.State.clone()
	if err := s.persister.Save(snapshot); err != nil {
		logrus.WithError(err).Warn("failed to persist client state")
	}
}
