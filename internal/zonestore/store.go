// Package zonestore defines the external storage boundary authdnsd uses
// to look up zone data, and ships an in-memory reference implementation
// seeded from a YAML zone document. Production deployments may supply any
// Store implementation (a KV store, a database-backed adapter, a
// replicated config service); the resolver never depends on the concrete
// backend.
package zonestore

import (
	"context"
	"errors"

	"github.com/dnsscience/authdnsd/internal/wire"
)

// ErrNotFound is returned by Get when no record exists for the given
// owner name and type.
var ErrNotFound = errors.New("zonestore: not found")

// RRSet is every record sharing an owner name and type.
type RRSet struct {
	Name  string
	Type  wire.RecordType
	TTL   uint32
	Rdata []wire.Rdata
}

// Store is the external interface authdnsd's resolver uses to read (and,
// for administrative tooling, write) zone data. All methods take a
// context so a networked backend can honor caller-imposed deadlines and
// cancellation.
type Store interface {
	// Get returns the RRSet for name/rtype, or ErrNotFound if no record
	// of that type exists at that owner name.
	Get(ctx context.Context, name string, rtype wire.RecordType) (RRSet, error)

	// GetAll returns every RRSet at the given owner name, across all
	// types, used to answer ANY queries.
	GetAll(ctx context.Context, name string) ([]RRSet, error)

	// Put inserts or replaces the RRSet for rrset.Name/rrset.Type.
	// Implementations used only for serving need not support Put; it
	// exists for zone-loading and administrative tooling.
	Put(ctx context.Context, rrset RRSet) error

	// Zones returns the canonical names of every zone this store is
	// authoritative for. The resolver does not call it; it classifies
	// queries against its own configured apex.
	Zones(ctx context.Context) ([]string, error)
}
