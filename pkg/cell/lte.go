package cell

import "github.com/satstat/satstat/pkg"

// LTERegister holds LTE towers
type LTERegister struct {
	*Register
}

// NewLTERegister creates an empty LTE register
func NewLTERegister() *LTERegister {
	return &LTERegister{Register: NewRegister(FamilyLTE)}
}

// UpdateLocation replaces the cell location entry with the given serving
// cell, reading TAC, CI and PCI from the GSM-style location.
// After this call IsServing returns true for the returned tower.
func (r *LTERegister) UpdateLocation(networkOperator string, loc GSMLocation) *Tower {
	r.RemoveSource(SourceCellLocation)
	return r.Upsert(LTEFromLocation(ParseOperator(networkOperator), loc))
}

// UpdateNeighbor adds or updates a tower from the neighbor list. Entries
// whose network type is not LTE are rejected with nil.
func (r *LTERegister) UpdateNeighbor(networkOperator string, n NeighboringCell) *Tower {
	return r.Upsert(LTEFromNeighbor(ParseOperator(networkOperator), n))
}

// UpdateCellInfo adds or updates a tower from an LTE cell info entry;
// other variants are rejected with nil.
func (r *LTERegister) UpdateCellInfo(ci CellInfo) *Tower {
	return r.Upsert(LTEFromCellInfo(ci))
}

// UpdateAllCellInfo expires the previous cell info batch and adds every
// LTE entry of cells.
func (r *LTERegister) UpdateAllCellInfo(cells []CellInfo) {
	r.RemoveSource(SourceCellInfo)
	for _, ci := range cells {
		r.UpdateCellInfo(ci)
	}
}

// UpdateAllNeighbors expires the previous neighbor batch and adds every
// LTE entry of cells.
func (r *LTERegister) UpdateAllNeighbors(networkOperator string, cells []NeighboringCell) {
	r.RemoveSource(SourceNeighborList)
	for _, n := range cells {
		r.UpdateNeighbor(networkOperator, n)
	}
}

// LTEFromLocation builds the serving tower from a GSM-style location
// reported while on LTE
func LTEFromLocation(op Operator, loc GSMLocation) *Tower {
	t := NewLTE(op.MCC, op.MNC, loc.LAC, loc.CID, loc.PSC)
	t.AddSource(SourceCellLocation)
	return t
}

// LTEFromNeighbor builds a tower from a neighbor list entry, or returns nil
// if the entry is not an LTE cell.
func LTEFromNeighbor(op Operator, n NeighboringCell) *Tower {
	if n.NetworkType != pkg.NetworkTypeLTE {
		return nil
	}
	t := NewLTE(op.MCC, op.MNC, n.LAC, n.CID, n.PSC)
	t.AddSource(SourceNeighborList)
	t.SetAsu(n.RSSI)
	t.SetNetworkType(n.NetworkType)
	return t
}

// LTEFromCellInfo builds a tower from an LTE cell info entry, or returns nil
// for other variants.
func LTEFromCellInfo(ci CellInfo) *Tower {
	if ci.Type != CellInfoLTE {
		return nil
	}
	t := NewLTE(ci.MCC, ci.MNC, ci.TAC, ci.CI, ci.PCI)
	t.AddSource(SourceCellInfo)
	t.SetDbm(ci.Dbm)
	t.SetGeneration(4)
	t.SetServing(ci.Registered)
	return t
}

// ENodeB returns the eNodeB id part of the cell identity
func (id LTEIdentity) ENodeB() int {
	if id.CI == Unknown {
		return Unknown
	}
	return id.CI / 0x100
}

// Sector returns the sector part of the cell identity
func (id LTEIdentity) Sector() int {
	if id.CI == Unknown {
		return Unknown
	}
	return id.CI % 0x100
}
