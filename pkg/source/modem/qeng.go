package modem

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/satstat/satstat/pkg"
	"github.com/satstat/satstat/pkg/cell"
)

// servingCell is the parsed AT+QENG="servingcell" response
type servingCell struct {
	State string
	RAT   string
	MCC   int
	MNC   string
	Area  int // LAC or TAC
	Cell  int // cell id
	Code  int // PSC or PCI
	Dbm   int
}

// registered reports whether the modem is camped on a cell
func (s servingCell) registered() bool {
	return s.RAT != "" && s.Cell != cell.Unknown
}

func (s servingCell) networkOperator() string {
	if s.MCC == cell.Unknown || s.MNC == "" {
		return ""
	}
	return fmt.Sprintf("%03d%s", s.MCC, s.MNC)
}

func (s servingCell) networkType() int {
	switch s.RAT {
	case "LTE":
		return pkg.NetworkTypeLTE
	case "WCDMA":
		return pkg.NetworkTypeUMTS
	case "GSM":
		return pkg.NetworkTypeGPRS
	}
	return pkg.NetworkTypeUnknown
}

func (s servingCell) phoneType() int {
	if s.RAT == "" {
		return pkg.PhoneTypeNone
	}
	return pkg.PhoneTypeGSM
}

func (s servingCell) location() *cell.CellLocation {
	if !s.registered() {
		return nil
	}
	return &cell.CellLocation{GSM: &cell.GSMLocation{LAC: s.Area, CID: s.Cell, PSC: s.Code}}
}

func (s servingCell) cellInfo() (cell.CellInfo, bool) {
	if !s.registered() {
		return cell.CellInfo{}, false
	}
	mnc := decInt(s.MNC)
	ci := cell.CellInfo{Registered: true, Dbm: s.Dbm, MCC: s.MCC, MNC: mnc, PSC: cell.Unknown}
	switch s.RAT {
	case "LTE":
		ci.Type = cell.CellInfoLTE
		ci.TAC, ci.CI, ci.PCI = s.Area, s.Cell, s.Code
	case "WCDMA":
		ci.Type = cell.CellInfoWCDMA
		ci.LAC, ci.CID, ci.PSC = s.Area, s.Cell, s.Code
	case "GSM":
		ci.Type = cell.CellInfoGSM
		ci.LAC, ci.CID = s.Area, s.Cell
	default:
		return cell.CellInfo{}, false
	}
	return ci, true
}

// fields splits one +QENG line into unquoted fields
func fields(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "+QENG:")
	parts := strings.Split(line, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(p, " \"\r")
	}
	return parts
}

func field(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

func decInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return cell.Unknown
	}
	return v
}

func hexInt(s string) int {
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return cell.Unknown
	}
	return int(v)
}

func dbmOrUnknown(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v >= 0 {
		return cell.DBMUnknown
	}
	return v
}

// parseServingCell reads the servingcell line of a QENG response. A modem
// that is searching reports only its state.
//
//	+QENG: "servingcell","NOCONN","LTE","FDD",240,01,18BCF1F,443,1300,3,5,5,17,-84,-8,-53,17,0,-,43
//	+QENG: "servingcell","NOCONN","WCDMA",262,01,3E9,1A2B3,10737,312,1,-85,-6,-,-,-,-,-
//	+QENG: "servingcell","NOCONN","GSM",262,01,3E9,2B7A,52,3,900,-64,0,...
func parseServingCell(output string) (servingCell, error) {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, `"servingcell"`) {
			continue
		}
		parts := fields(line)
		s := servingCell{
			State: field(parts, 1),
			RAT:   field(parts, 2),
			MCC:   cell.Unknown,
			Area:  cell.Unknown,
			Cell:  cell.Unknown,
			Code:  cell.Unknown,
			Dbm:   cell.DBMUnknown,
		}
		switch s.RAT {
		case "LTE":
			s.MCC = decInt(field(parts, 4))
			s.MNC = field(parts, 5)
			s.Cell = hexInt(field(parts, 6))
			s.Code = decInt(field(parts, 7))
			s.Area = hexInt(field(parts, 12))
			s.Dbm = dbmOrUnknown(field(parts, 13))
		case "WCDMA":
			s.MCC = decInt(field(parts, 3))
			s.MNC = field(parts, 4)
			s.Area = hexInt(field(parts, 5))
			s.Cell = hexInt(field(parts, 6))
			s.Code = decInt(field(parts, 8))
			s.Dbm = dbmOrUnknown(field(parts, 10))
		case "GSM":
			s.MCC = decInt(field(parts, 3))
			s.MNC = field(parts, 4)
			s.Area = hexInt(field(parts, 5))
			s.Cell = hexInt(field(parts, 6))
			s.Dbm = dbmOrUnknown(field(parts, 10))
		default:
			s.RAT = ""
		}
		return s, nil
	}
	return servingCell{}, fmt.Errorf("no servingcell line in modem response")
}

// neighbours is the parsed AT+QENG="neighbourcell" response
type neighbours struct {
	LTE    []cell.CellInfo
	Legacy []cell.NeighboringCell
}

// parseNeighbours reads every neighbourcell line. LTE neighbours carry only
// a PCI; WCDMA ones only a PSC.
//
//	+QENG: "neighbourcell intra","LTE",1300,443,-8,-84,-53,17,52,7,...
//	+QENG: "neighbourcell","WCDMA",10737,0,14,16,312,-92,-9,20
//	+QENG: "neighbourcell","GSM",262,01,3E9,2B7B,52,900,-70,...
func parseNeighbours(output string) neighbours {
	var out neighbours
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, `"neighbourcell`) {
			continue
		}
		parts := fields(line)
		switch field(parts, 1) {
		case "LTE":
			pci := decInt(field(parts, 3))
			if pci == cell.Unknown {
				continue
			}
			out.LTE = append(out.LTE, cell.CellInfo{
				Type: cell.CellInfoLTE,
				MCC:  cell.Unknown,
				MNC:  cell.Unknown,
				TAC:  cell.Unknown,
				CI:   cell.Unknown,
				PCI:  pci,
				PSC:  cell.Unknown,
				Dbm:  dbmOrUnknown(field(parts, 5)),
			})
		case "WCDMA":
			rssi := pkg.UnknownRSSI
			if rscp := dbmOrUnknown(field(parts, 7)); rscp != cell.DBMUnknown {
				rssi = rscp + 116
			}
			out.Legacy = append(out.Legacy, cell.NeighboringCell{
				NetworkType: pkg.NetworkTypeUMTS,
				LAC:         cell.Unknown,
				CID:         cell.Unknown,
				PSC:         decInt(field(parts, 6)),
				RSSI:        rssi,
			})
		case "GSM":
			rssi := pkg.UnknownRSSI
			if rxlev := dbmOrUnknown(field(parts, 8)); rxlev != cell.DBMUnknown {
				rssi = (rxlev + 113) / 2
			}
			out.Legacy = append(out.Legacy, cell.NeighboringCell{
				NetworkType: pkg.NetworkTypeGPRS,
				LAC:         hexInt(field(parts, 4)),
				CID:         hexInt(field(parts, 5)),
				PSC:         cell.Unknown,
				RSSI:        rssi,
			})
		}
	}
	return out
}

// parseCSQ returns the RSSI of a +CSQ response, which is a GSM ASU value
func parseCSQ(output string) (int, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "+CSQ:") {
			continue
		}
		parts := strings.Split(strings.TrimSpace(strings.TrimPrefix(line, "+CSQ:")), ",")
		asu, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return 0, fmt.Errorf("invalid CSQ response %q", line)
		}
		return asu, nil
	}
	return 0, fmt.Errorf("no CSQ line in modem response")
}

// parseCGATT reports whether the modem is attached to packet service
func parseCGATT(output string) (bool, error) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "+CGATT:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "+CGATT:")) == "1", nil
		}
	}
	return false, fmt.Errorf("no CGATT line in modem response")
}
