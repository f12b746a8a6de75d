package cell

import "strconv"

// GSMLocation is a serving cell location reported by a GSM, UMTS or LTE radio.
// LTE radios report TAC, CI and PCI in the LAC, CID and PSC fields.
type GSMLocation struct {
	LAC int `json:"lac"`
	CID int `json:"cid"`
	PSC int `json:"psc"`
}

// CDMALocation is a serving cell location reported by a CDMA radio
type CDMALocation struct {
	BaseStationID int `json:"bsid"`
	SystemID      int `json:"sid"`
	NetworkID     int `json:"nid"`
}

// CellLocation holds at most one location variant. Both nil means no data.
type CellLocation struct {
	GSM  *GSMLocation  `json:"gsm,omitempty"`
	CDMA *CDMALocation `json:"cdma,omitempty"`
}

// CellInfoType tags the variant of a cell info entry
type CellInfoType int

const (
	CellInfoGSM CellInfoType = iota + 1
	CellInfoCDMA
	CellInfoWCDMA
	CellInfoLTE
)

func (c CellInfoType) String() string {
	switch c {
	case CellInfoGSM:
		return "gsm"
	case CellInfoCDMA:
		return "cdma"
	case CellInfoWCDMA:
		return "wcdma"
	case CellInfoLTE:
		return "lte"
	default:
		return "unknown"
	}
}

// CellInfo is one entry of the cell info list. Only the identity fields of
// its own variant are read.
type CellInfo struct {
	Type       CellInfoType `json:"type"`
	Registered bool         `json:"registered"`
	Dbm        int          `json:"dbm"`

	// GSM, WCDMA and LTE
	MCC int `json:"mcc"`
	MNC int `json:"mnc"`

	// GSM and WCDMA
	LAC int `json:"lac"`
	CID int `json:"cid"`
	PSC int `json:"psc"`

	// LTE
	TAC int `json:"tac"`
	CI  int `json:"ci"`
	PCI int `json:"pci"`

	// CDMA
	SID  int `json:"sid"`
	NID  int `json:"nid"`
	BSID int `json:"bsid"`
}

// NeighboringCell is one entry of the neighbor list. The network type
// decides which family the entry belongs to and how RSSI is read.
type NeighboringCell struct {
	NetworkType int `json:"network_type"`
	LAC         int `json:"lac"`
	CID         int `json:"cid"`
	PSC         int `json:"psc"`
	RSSI        int `json:"rssi"`
}

// SignalStrength is a reading for the serving cell, tagged by phone type
type SignalStrength struct {
	PhoneType int `json:"phone_type"`
	GSMAsu    int `json:"gsm_asu"`
	CDMADbm   int `json:"cdma_dbm"`
}

// Operator is the MCC/MNC pair of the registered network
type Operator struct {
	MCC int
	MNC int
}

// ParseOperator splits a numeric operator string (MCC followed by MNC).
// Strings of three characters or less, or with non-numeric parts, yield Unknown.
func ParseOperator(networkOperator string) Operator {
	op := Operator{MCC: Unknown, MNC: Unknown}
	if len(networkOperator) <= 3 {
		return op
	}
	mcc, err := strconv.Atoi(networkOperator[:3])
	if err != nil {
		return op
	}
	mnc, err := strconv.Atoi(networkOperator[3:])
	if err != nil {
		return op
	}
	op.MCC = mcc
	op.MNC = mnc
	return op
}
