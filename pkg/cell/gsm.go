package cell

import "github.com/satstat/satstat/pkg"

// GSMRegister holds GSM and UMTS towers
type GSMRegister struct {
	*Register
}

// NewGSMRegister creates an empty GSM/UMTS register
func NewGSMRegister() *GSMRegister {
	return &GSMRegister{Register: NewRegister(FamilyGSM)}
}

// UpdateLocation replaces the cell location entry with the given serving cell.
// After this call IsServing returns true for the returned tower.
func (r *GSMRegister) UpdateLocation(networkOperator string, loc GSMLocation) *Tower {
	r.RemoveSource(SourceCellLocation)
	return r.Upsert(GSMFromLocation(ParseOperator(networkOperator), loc))
}

// UpdateNeighbor adds or updates a tower from the neighbor list. Entries
// whose network type is not a flavor of GSM or UMTS are rejected with nil.
func (r *GSMRegister) UpdateNeighbor(networkOperator string, n NeighboringCell) *Tower {
	return r.Upsert(GSMFromNeighbor(ParseOperator(networkOperator), n))
}

// UpdateCellInfo adds or updates a tower from a GSM or WCDMA cell info
// entry; other variants are rejected with nil.
func (r *GSMRegister) UpdateCellInfo(ci CellInfo) *Tower {
	return r.Upsert(GSMFromCellInfo(ci))
}

// UpdateAllCellInfo expires the previous cell info batch and adds every
// GSM and WCDMA entry of cells.
func (r *GSMRegister) UpdateAllCellInfo(cells []CellInfo) {
	r.RemoveSource(SourceCellInfo)
	for _, ci := range cells {
		r.UpdateCellInfo(ci)
	}
}

// UpdateAllNeighbors expires the previous neighbor batch and adds every
// accepted entry of cells.
func (r *GSMRegister) UpdateAllNeighbors(networkOperator string, cells []NeighboringCell) {
	r.RemoveSource(SourceNeighborList)
	for _, n := range cells {
		r.UpdateNeighbor(networkOperator, n)
	}
}

// GSMFromLocation builds the serving tower from a GSM cell location
func GSMFromLocation(op Operator, loc GSMLocation) *Tower {
	t := NewGSM(op.MCC, op.MNC, loc.LAC, loc.CID, loc.PSC)
	t.AddSource(SourceCellLocation)
	return t
}

// GSMFromNeighbor builds a tower from a neighbor list entry, or returns nil
// if the entry is not a GSM or UMTS cell.
func GSMFromNeighbor(op Operator, n NeighboringCell) *Tower {
	t := NewGSM(op.MCC, op.MNC, n.LAC, n.CID, n.PSC)
	switch n.NetworkType {
	case pkg.NetworkTypeUMTS, pkg.NetworkTypeHSDPA, pkg.NetworkTypeHSUPA, pkg.NetworkTypeHSPA:
		t.SetCpichRscp(n.RSSI)
	case pkg.NetworkTypeEDGE, pkg.NetworkTypeGPRS:
		t.SetAsu(n.RSSI)
	default:
		return nil
	}
	t.AddSource(SourceNeighborList)
	t.SetNetworkType(n.NetworkType)
	return t
}

// GSMFromCellInfo builds a tower from a GSM (2G) or WCDMA (3G) cell info
// entry, or returns nil for other variants.
func GSMFromCellInfo(ci CellInfo) *Tower {
	var generation int
	switch ci.Type {
	case CellInfoGSM:
		generation = 2
	case CellInfoWCDMA:
		generation = 3
	default:
		return nil
	}
	t := NewGSM(ci.MCC, ci.MNC, ci.LAC, ci.CID, ci.PSC)
	t.AddSource(SourceCellInfo)
	t.SetDbm(ci.Dbm)
	t.SetGeneration(generation)
	t.SetServing(ci.Registered)
	return t
}

// RNC returns the radio network controller id of a long UMTS cell id, or
// Unknown if the cell id fits into 16 bits.
func (id GSMIdentity) RNC() int {
	if id.CID == Unknown || id.CID <= 0xFFFF {
		return Unknown
	}
	return id.CID / 0x10000
}

// ShortCID returns the lower 16 bits of the cell id
func (id GSMIdentity) ShortCID() int {
	if id.CID == Unknown {
		return Unknown
	}
	return id.CID % 0x10000
}
