// Package cell holds the cell tower records and the per-family registers
// that reconcile observations from the telephony sources.
package cell

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/satstat/satstat/pkg"
)

// Unknown marks an identity field with no valid value
const Unknown = -1

// DBMUnknown is the signal strength of a cell with no reading (99 is unknown ASU, 99*2-113)
const DBMUnknown = 85

// DBMMax is the unbounded reading some platforms report instead of a real strength.
// It is kept as reported and is distinct from DBMUnknown.
const DBMMax = math.MaxInt32

// Family is the radio family a tower belongs to
type Family int

const (
	FamilyGSM Family = iota + 1
	FamilyCDMA
	FamilyLTE
)

// Families lists all families in display order
var Families = []Family{FamilyGSM, FamilyCDMA, FamilyLTE}

func (f Family) String() string {
	switch f {
	case FamilyGSM:
		return "gsm"
	case FamilyCDMA:
		return "cdma"
	case FamilyLTE:
		return "lte"
	default:
		return "unknown"
	}
}

// ParseFamily converts a family name into a Family
func ParseFamily(name string) (Family, bool) {
	switch strings.ToLower(name) {
	case "gsm", "umts":
		return FamilyGSM, true
	case "cdma":
		return FamilyCDMA, true
	case "lte":
		return FamilyLTE, true
	}
	return 0, false
}

// Source is a set of flags recording which sources currently back a tower
type Source int

const (
	SourceNone         Source = 0
	SourceCellLocation Source = 1
	SourceNeighborList Source = 2
	SourceCellInfo     Source = 4
)

// Has reports whether all flags in f are set
func (s Source) Has(f Source) bool {
	return f != SourceNone && s&f == f
}

func (s Source) String() string {
	if s == SourceNone {
		return "none"
	}
	var parts []string
	if s.Has(SourceCellLocation) {
		parts = append(parts, "location")
	}
	if s.Has(SourceNeighborList) {
		parts = append(parts, "neighbor")
	}
	if s.Has(SourceCellInfo) {
		parts = append(parts, "cellinfo")
	}
	return strings.Join(parts, "|")
}

// GSMIdentity identifies a GSM or UMTS cell
type GSMIdentity struct {
	MCC int `json:"mcc"`
	MNC int `json:"mnc"`
	LAC int `json:"lac"`
	CID int `json:"cid"`
	PSC int `json:"psc"`
}

// CDMAIdentity identifies a CDMA base station
type CDMAIdentity struct {
	SID  int `json:"sid"`
	NID  int `json:"nid"`
	BSID int `json:"bsid"`
}

// LTEIdentity identifies an LTE cell
type LTEIdentity struct {
	MCC int `json:"mcc"`
	MNC int `json:"mnc"`
	TAC int `json:"tac"`
	CI  int `json:"ci"`
	PCI int `json:"pci"`
}

// Key is the identity tuple used to deduplicate towers within a register
type Key struct {
	Family Family
	IDs    [5]int
}

// Tower is one physical cell. Identity is fixed at construction; signal,
// generation, serving and source state change as observations arrive.
type Tower struct {
	family Family
	gsm    GSMIdentity
	cdma   CDMAIdentity
	lte    LTEIdentity

	dbm        int
	generation int
	serving    bool
	source     Source
}

func newTower(family Family) *Tower {
	return &Tower{family: family, dbm: DBMUnknown}
}

// NewGSM creates a GSM/UMTS tower, normalizing invalid identity values to Unknown
func NewGSM(mcc, mnc, lac, cid, psc int) *Tower {
	t := newTower(FamilyGSM)
	t.gsm = GSMIdentity{
		MCC: normalize(mcc, maxMCC),
		MNC: normalize(mnc, maxMNC),
		LAC: normalize(lac, maxAreaCode),
		CID: normalize(cid, maxCellID),
		PSC: normalize(psc, maxPSC),
	}
	return t
}

// NewCDMA creates a CDMA tower, normalizing invalid identity values to Unknown
func NewCDMA(sid, nid, bsid int) *Tower {
	t := newTower(FamilyCDMA)
	t.cdma = CDMAIdentity{
		SID:  normalize(sid, maxSID),
		NID:  normalize(nid, maxNID),
		BSID: normalize(bsid, maxBSID),
	}
	return t
}

// NewLTE creates an LTE tower, normalizing invalid identity values to Unknown
func NewLTE(mcc, mnc, tac, ci, pci int) *Tower {
	t := newTower(FamilyLTE)
	t.lte = LTEIdentity{
		MCC: normalize(mcc, maxMCC),
		MNC: normalize(mnc, maxMNC),
		TAC: normalize(tac, maxAreaCode),
		CI:  normalize(ci, maxCellID),
		PCI: normalize(pci, maxPCI),
	}
	return t
}

const (
	maxMCC      = 999
	maxMNC      = 999
	maxAreaCode = 0xFFFF
	maxCellID   = 0xFFFFFFF
	maxPSC      = 511
	maxPCI      = 503
	maxSID      = 0x7FFF
	maxNID      = 0xFFFF
	maxBSID     = 0xFFFF
)

// normalize maps negative, max-int and out-of-range values to Unknown
func normalize(v, max int) int {
	if v < 0 || v == math.MaxInt32 || v > max {
		return Unknown
	}
	return v
}

// Family returns the radio family of the tower
func (t *Tower) Family() Family { return t.family }

// GSM returns the GSM/UMTS identity; zero value for other families
func (t *Tower) GSM() GSMIdentity { return t.gsm }

// CDMA returns the CDMA identity; zero value for other families
func (t *Tower) CDMA() CDMAIdentity { return t.cdma }

// LTE returns the LTE identity; zero value for other families
func (t *Tower) LTE() LTEIdentity { return t.lte }

// Key returns the identity tuple of the tower
func (t *Tower) Key() Key {
	k := Key{Family: t.family}
	switch t.family {
	case FamilyGSM:
		k.IDs = [5]int{t.gsm.MCC, t.gsm.MNC, t.gsm.LAC, t.gsm.CID, t.gsm.PSC}
	case FamilyCDMA:
		k.IDs = [5]int{t.cdma.SID, t.cdma.NID, t.cdma.BSID, Unknown, Unknown}
	case FamilyLTE:
		k.IDs = [5]int{t.lte.MCC, t.lte.MNC, t.lte.TAC, t.lte.CI, t.lte.PCI}
	}
	return k
}

// Dbm returns the signal strength in dBm, DBMUnknown if not known
func (t *Tower) Dbm() int { return t.dbm }

// HasDbm reports whether the tower carries a usable signal reading
func (t *Tower) HasDbm() bool {
	return t.dbm != DBMUnknown && t.dbm != DBMMax
}

// SetDbm sets the signal strength in dBm
func (t *Tower) SetDbm(dbm int) { t.dbm = dbm }

// SetAsu sets the signal strength from an arbitrary strength unit reading.
// GSM uses 0..31 (2*asu-113 dBm), LTE uses 0..97 (asu-140 dBm). CDMA
// towers have no ASU representation and are left untouched.
func (t *Tower) SetAsu(asu int) {
	switch t.family {
	case FamilyGSM:
		t.dbm = DbmFromGSMAsu(asu)
	case FamilyLTE:
		if asu < 0 || asu > 97 {
			t.dbm = DBMUnknown
		} else {
			t.dbm = asu - 140
		}
	}
}

// DbmFromGSMAsu converts a GSM ASU reading (0..31) to dBm
func DbmFromGSMAsu(asu int) int {
	if asu < 0 || asu > 31 {
		return DBMUnknown
	}
	return 2*asu - 113
}

// SetCpichRscp sets the signal strength of a UMTS tower from a CPICH RSCP
// level (-5..91, see TS 25.133 section 9.1.1.3).
func (t *Tower) SetCpichRscp(rscp int) {
	if t.family != FamilyGSM {
		return
	}
	if rscp < -5 || rscp > 91 {
		t.dbm = DBMUnknown
	} else {
		t.dbm = rscp - 116
	}
}

// Generation returns 2, 3 or 4, or 0 if unknown
func (t *Tower) Generation() int { return t.generation }

// SetGeneration sets the network generation
func (t *Tower) SetGeneration(generation int) { t.generation = generation }

// SetNetworkType sets the generation from a network type code
func (t *Tower) SetNetworkType(networkType int) {
	t.generation = GenerationFromNetworkType(networkType)
}

// Source returns the source flags currently backing the tower
func (t *Tower) Source() Source { return t.source }

// HasSource reports whether the tower was part of the last update from any
// source. Towers without a source are stale and must not be displayed.
func (t *Tower) HasSource() bool { return t.source > SourceNone }

// AddSource sets the given source flags
func (t *Tower) AddSource(s Source) { t.source |= s }

// ClearSource clears the given source flags
func (t *Tower) ClearSource(s Source) { t.source &^= s }

// IsCellLocation reports whether the tower was reported as cell location
func (t *Tower) IsCellLocation() bool { return t.source.Has(SourceCellLocation) }

// IsNeighbor reports whether the tower was reported in the neighbor list
func (t *Tower) IsNeighbor() bool { return t.source.Has(SourceNeighborList) }

// IsCellInfo reports whether the tower was reported in the cell info list
func (t *Tower) IsCellInfo() bool { return t.source.Has(SourceCellInfo) }

// IsServing reports whether the device is registered with this tower.
// A tower reported as cell location is always the serving cell.
func (t *Tower) IsServing() bool {
	return t.serving || t.source.Has(SourceCellLocation)
}

// SetServing sets the explicit serving flag
func (t *Tower) SetServing(serving bool) { t.serving = serving }

// Text returns the cell identity as family:id-id-..., or "" if the cell id
// is unknown. Unknown upper-level ids are written as -1.
func (t *Tower) Text() string {
	switch t.family {
	case FamilyGSM:
		if t.gsm.CID == Unknown {
			return ""
		}
		return fmt.Sprintf("%s:%d-%d-%d-%d", t.family, t.gsm.MCC, t.gsm.MNC, t.gsm.LAC, t.gsm.CID)
	case FamilyCDMA:
		if t.cdma.BSID == Unknown {
			return ""
		}
		return fmt.Sprintf("%s:%d-%d-%d", t.family, t.cdma.SID, t.cdma.NID, t.cdma.BSID)
	case FamilyLTE:
		if t.lte.CI == Unknown {
			return ""
		}
		return fmt.Sprintf("%s:%d-%d-%d-%d", t.family, t.lte.MCC, t.lte.MNC, t.lte.TAC, t.lte.CI)
	}
	return ""
}

// AltText returns the alternate identity built from the scrambling code or
// physical cell id, as family:psc-... or family:pci-..., or "" if unavailable.
func (t *Tower) AltText() string {
	switch t.family {
	case FamilyGSM:
		if t.gsm.PSC == Unknown {
			return ""
		}
		return fmt.Sprintf("%s:psc-%d-%d-%d-%d", t.family, t.gsm.MCC, t.gsm.MNC, t.gsm.LAC, t.gsm.PSC)
	case FamilyLTE:
		if t.lte.PCI == Unknown {
			return ""
		}
		return fmt.Sprintf("%s:pci-%d-%d-%d-%d", t.family, t.lte.MCC, t.lte.MNC, t.lte.TAC, t.lte.PCI)
	}
	return ""
}

// Label returns Text, falling back to AltText
func (t *Tower) Label() string {
	if s := t.Text(); s != "" {
		return s
	}
	return t.AltText()
}

// merge folds a fresh observation of the same identity into t. Source flags
// accumulate, known readings overwrite, and the explicit serving flag is
// authoritative only when the observation comes from the cell info source.
func (t *Tower) merge(obs *Tower) {
	t.source |= obs.source
	if obs.dbm != DBMUnknown {
		t.dbm = obs.dbm
	}
	if obs.generation > 0 {
		t.generation = obs.generation
	}
	if obs.source.Has(SourceCellInfo) {
		t.serving = obs.serving
	} else if obs.serving {
		t.serving = true
	}
}

type towerJSON struct {
	Family     string        `json:"family"`
	Text       string        `json:"text,omitempty"`
	AltText    string        `json:"alt_text,omitempty"`
	GSM        *GSMIdentity  `json:"gsm,omitempty"`
	CDMA       *CDMAIdentity `json:"cdma,omitempty"`
	LTE        *LTEIdentity  `json:"lte,omitempty"`
	Dbm        *int          `json:"dbm,omitempty"`
	RNC        *int          `json:"rnc,omitempty"`
	ShortCID   *int          `json:"short_cid,omitempty"`
	ENodeB     *int          `json:"enodeb,omitempty"`
	Sector     *int          `json:"sector,omitempty"`
	Generation int           `json:"generation"`
	Serving    bool          `json:"serving"`
	Source     string        `json:"source"`
}

// MarshalJSON renders the tower for display consumers
func (t Tower) MarshalJSON() ([]byte, error) {
	out := towerJSON{
		Family:     t.family.String(),
		Text:       t.Text(),
		AltText:    t.AltText(),
		Generation: t.generation,
		Serving:    t.IsServing(),
		Source:     t.source.String(),
	}
	switch t.family {
	case FamilyGSM:
		id := t.gsm
		out.GSM = &id
		// long UMTS cell ids split into RNC and short cid
		if rnc := id.RNC(); rnc != Unknown {
			out.RNC, out.ShortCID = known(rnc), known(id.ShortCID())
		}
	case FamilyCDMA:
		id := t.cdma
		out.CDMA = &id
	case FamilyLTE:
		id := t.lte
		out.LTE = &id
		out.ENodeB, out.Sector = known(id.ENodeB()), known(id.Sector())
	}
	if t.HasDbm() {
		dbm := t.dbm
		out.Dbm = &dbm
	}
	return json.Marshal(out)
}

// known returns a pointer to v, or nil if v is Unknown
func known(v int) *int {
	if v == Unknown {
		return nil
	}
	return &v
}

// Matches reports a loose match of two identity parts: true if either is
// Unknown or both are equal.
func Matches(l, r int) bool {
	if l == Unknown || r == Unknown {
		return true
	}
	return l == r
}

// GenerationFromNetworkType returns 2, 3 or 4 for a network type code, 0 if unknown
func GenerationFromNetworkType(networkType int) int {
	switch networkType {
	case pkg.NetworkTypeCDMA, pkg.NetworkTypeEDGE, pkg.NetworkTypeGPRS, pkg.NetworkTypeIDEN:
		return 2
	case pkg.NetworkType1xRTT, pkg.NetworkTypeEHRPD, pkg.NetworkTypeEVDO0, pkg.NetworkTypeEVDOA,
		pkg.NetworkTypeEVDOB, pkg.NetworkTypeHSDPA, pkg.NetworkTypeHSPA, pkg.NetworkTypeHSPAP,
		pkg.NetworkTypeHSUPA, pkg.NetworkTypeUMTS:
		return 3
	case pkg.NetworkTypeLTE:
		return 4
	default:
		return 0
	}
}
