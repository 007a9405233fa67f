package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// SinkService holds the latest registry snapshot.
type SinkService struct {
	dataDir string
	snap    Snapshot
	sinks   map[string]int
	owners  map[string]int
	bus     *EventBus[Event]
	mu      sync.RWMutex
}

// NewSinkService creates a sink service. When dataDir is set the last good
// snapshot is kept there and read back on start, so the map has content
// before the first refresh completes.
func NewSinkService(dataDir string, bus *EventBus[Event]) *SinkService {
	s := &SinkService{dataDir: dataDir, bus: bus}
	s.index(Snapshot{})
	s.loadFromDisk()
	return s
}

// Snapshot returns a copy of the current snapshot.
func (s *SinkService) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CarbonSinks: slices.Clone(s.snap.CarbonSinks),
		Owners:      slices.Clone(s.snap.Owners),
		FetchedAt:   s.snap.FetchedAt,
	}
}

// List returns all carbon sinks in feed order.
func (s *SinkService) List() []CarbonSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.CarbonSinks)
}

// Get returns a sink by ID.
func (s *SinkService) Get(id string) (CarbonSink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.sinks[id]
	if !ok {
		return CarbonSink{}, false
	}
	return s.snap.CarbonSinks[i], true
}

// Owners returns all landowners in feed order.
func (s *SinkService) Owners() []Owner {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.snap.Owners)
}

// Owner returns an owner by ID.
func (s *SinkService) Owner(id string) (Owner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.owners[id]
	if !ok {
		return Owner{}, false
	}
	return s.snap.Owners[i], true
}

// SinksOf returns the sinks belonging to an owner.
func (s *SinkService) SinksOf(ownerID string) []CarbonSink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CarbonSink
	for _, sink := range s.snap.CarbonSinks {
		if sink.OwnerID == ownerID {
			out = append(out, sink)
		}
	}
	return out
}

// Replace installs a new snapshot and announces it on the bus.
func (s *SinkService) Replace(snap Snapshot) error {
	s.mu.Lock()
	s.index(snap)
	err := s.saveToDisk()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(Event{Resource: "sinks", Action: "refreshed"})
	}
	return err
}

// index must be called with mu held for writing.
func (s *SinkService) index(snap Snapshot) {
	s.snap = snap
	s.sinks = make(map[string]int, len(snap.CarbonSinks))
	for i, sink := range snap.CarbonSinks {
		if _, dup := s.sinks[sink.ID]; !dup {
			s.sinks[sink.ID] = i
		}
	}
	s.owners = make(map[string]int, len(snap.Owners))
	for i, o := range snap.Owners {
		if _, dup := s.owners[o.ID]; !dup {
			s.owners[o.ID] = i
		}
	}
}

// snapshotFile returns the path of the cached snapshot.
func (s *SinkService) snapshotFile() string {
	return filepath.Join(s.dataDir, "snapshot.json")
}

// loadFromDisk loads the cached snapshot, if any.
func (s *SinkService) loadFromDisk() {
	if s.dataDir == "" {
		return
	}
	data, err := os.ReadFile(s.snapshotFile())
	if err != nil {
		return // File doesn't exist yet, start empty
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return // Invalid JSON, start empty
	}

	s.index(snap)
}

// saveToDisk persists the snapshot.
func (s *SinkService) saveToDisk() error {
	if s.dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.snap, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.snapshotFile(), data, 0644)
}
