package zonestore

import (
	"context"
	"fmt"
	"sync"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// Memory is an in-memory Store, the reference implementation used by
// tests, single-node deployments, and anywhere a networked backend is
// unnecessary. Records are indexed by canonical owner name, then by
// record type.
type Memory struct {
	mu    sync.RWMutex
	zones map[string]bool // canonical zone apex -> authoritative
	data  map[string]map[wire.RecordType]RRSet
}

// NewMemory returns an empty Memory store with no zones yet registered.
func NewMemory() *Memory {
	return &Memory{
		zones: make(map[string]bool),
		data:  make(map[string]map[wire.RecordType]RRSet),
	}
}

// AddZone registers apex as a zone this store is authoritative for. Get/
// GetAll/Put do not require the owner name's zone to be pre-registered;
// registration only affects what Zones reports.
func (m *Memory) AddZone(apex string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[wire.CanonicalName(apex)] = true
}

func (m *Memory) Zones(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.zones))
	for z := range m.zones {
		out = append(out, z)
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, name string, rtype wire.RecordType) (RRSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType, ok := m.data[wire.CanonicalName(name)]
	if !ok {
		return RRSet{}, ErrNotFound
	}
	rrset, ok := byType[rtype]
	if !ok {
		return RRSet{}, ErrNotFound
	}
	return rrset, nil
}

func (m *Memory) GetAll(ctx context.Context, name string) ([]RRSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byType, ok := m.data[wire.CanonicalName(name)]
	if !ok {
		return nil, nil
	}
	out := make([]RRSet, 0, len(byType))
	for _, rrset := range byType {
		out = append(out, rrset)
	}
	return out, nil
}

func (m *Memory) Put(ctx context.Context, rrset RRSet) error {
	if len(rrset.Rdata) == 0 {
		return fmt.Errorf("zonestore: rrset for %s/%d has no records", rrset.Name, rrset.Type)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	name := wire.CanonicalName(rrset.Name)
	if m.data[name] == nil {
		m.data[name] = make(map[wire.RecordType]RRSet)
	}
	rrset.Name = name
	m.data[name][rrset.Type] = rrset
	return nil
}

// Delete removes the RRSet for name/rtype, used by administrative
// tooling; the serving path never calls it.
func (m *Memory) Delete(ctx context.Context, name string, rtype wire.RecordType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byType, ok := m.data[wire.CanonicalName(name)]
	if !ok {
		return
	}
	delete(byType, rtype)
}
