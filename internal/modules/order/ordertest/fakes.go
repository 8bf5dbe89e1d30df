package ordertest

import (
	"context"
	"sync"

	"foodhub/internal/apperr"
	"foodhub/internal/modules/zone"
	"foodhub/internal/types"
)

// Vendors is a fixed vendor directory.
type Vendors struct {
	mu        sync.Mutex
	addresses map[types.ID]types.Address
	owners    map[types.ID]types.ID
}

func NewVendors() *Vendors {
	return &Vendors{addresses: map[types.ID]types.Address{}, owners: map[types.ID]types.ID{}}
}

func (v *Vendors) Add(vendorID, ownerID types.ID, addr types.Address) {
	v.mu.Lock()
	v.addresses[vendorID] = addr
	v.owners[vendorID] = ownerID
	v.mu.Unlock()
}

// Move changes a vendor's business address after orders were placed.
func (v *Vendors) Move(vendorID types.ID, addr types.Address) {
	v.mu.Lock()
	v.addresses[vendorID] = addr
	v.mu.Unlock()
}

func (v *Vendors) BusinessAddress(_ context.Context, vendorID types.ID) (types.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	a, ok := v.addresses[vendorID]
	if !ok {
		return types.Address{}, apperr.NotFound("vendor not found")
	}
	return a, nil
}

func (v *Vendors) UserID(_ context.Context, vendorID types.ID) (types.ID, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, ok := v.owners[vendorID]
	if !ok {
		return "", apperr.NotFound("vendor not found")
	}
	return id, nil
}

// Partners answers approval checks from a set and records MarkIdle calls.
type Partners struct {
	mu       sync.Mutex
	approved map[types.ID]bool
	idled    []types.ID
}

func NewPartners(approved ...types.ID) *Partners {
	p := &Partners{approved: map[types.ID]bool{}}
	for _, id := range approved {
		p.approved[id] = true
	}
	return p
}

func (p *Partners) Suspend(id types.ID) {
	p.mu.Lock()
	delete(p.approved, id)
	p.mu.Unlock()
}

func (p *Partners) IsApproved(_ context.Context, id types.ID) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.approved[id], nil
}

func (p *Partners) MarkIdle(_ context.Context, id types.ID) error {
	p.mu.Lock()
	p.idled = append(p.idled, id)
	p.mu.Unlock()
	return nil
}

func (p *Partners) Idled() []types.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.ID(nil), p.idled...)
}

// Zones resolves every point to the same zone.
type Zones struct {
	Zone *zone.Zone
}

func (z Zones) ResolveForPoint(context.Context, types.Point) (*zone.Zone, error) {
	if z.Zone == nil {
		return nil, zone.ErrNotFound
	}
	return z.Zone, nil
}
