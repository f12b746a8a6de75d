package cell

// CDMARegister holds CDMA towers. CDMA cells never appear in the neighbor list.
type CDMARegister struct {
	*Register
}

// NewCDMARegister creates an empty CDMA register
func NewCDMARegister() *CDMARegister {
	return &CDMARegister{Register: NewRegister(FamilyCDMA)}
}

// UpdateLocation replaces the cell location entry with the given serving cell.
// After this call IsServing returns true for the returned tower.
func (r *CDMARegister) UpdateLocation(loc CDMALocation) *Tower {
	r.RemoveSource(SourceCellLocation)
	return r.Upsert(CDMAFromLocation(loc))
}

// UpdateCellInfo adds or updates a tower from a CDMA cell info entry;
// other variants are rejected with nil.
func (r *CDMARegister) UpdateCellInfo(ci CellInfo) *Tower {
	return r.Upsert(CDMAFromCellInfo(ci))
}

// UpdateAllCellInfo expires the previous cell info batch and adds every
// CDMA entry of cells.
func (r *CDMARegister) UpdateAllCellInfo(cells []CellInfo) {
	r.RemoveSource(SourceCellInfo)
	for _, ci := range cells {
		r.UpdateCellInfo(ci)
	}
}

// CDMAFromLocation builds the serving tower from a CDMA cell location
func CDMAFromLocation(loc CDMALocation) *Tower {
	t := NewCDMA(loc.SystemID, loc.NetworkID, loc.BaseStationID)
	t.AddSource(SourceCellLocation)
	return t
}

// CDMAFromCellInfo builds a tower from a CDMA cell info entry, or returns
// nil for other variants. The generation is left to the network type.
func CDMAFromCellInfo(ci CellInfo) *Tower {
	if ci.Type != CellInfoCDMA {
		return nil
	}
	t := NewCDMA(ci.SID, ci.NID, ci.BSID)
	t.AddSource(SourceCellInfo)
	t.SetDbm(ci.Dbm)
	t.SetServing(ci.Registered)
	return t
}
