package pkg

// Network type codes as reported by the telephony layer
const (
	NetworkTypeUnknown = 0
	NetworkTypeGPRS    = 1
	NetworkTypeEDGE    = 2
	NetworkTypeUMTS    = 3
	NetworkTypeCDMA    = 4
	NetworkTypeEVDO0   = 5
	NetworkTypeEVDOA   = 6
	NetworkType1xRTT   = 7
	NetworkTypeHSDPA   = 8
	NetworkTypeHSUPA   = 9
	NetworkTypeHSPA    = 10
	NetworkTypeIDEN    = 11
	NetworkTypeEVDOB   = 12
	NetworkTypeLTE     = 13
	NetworkTypeEHRPD   = 14
	NetworkTypeHSPAP   = 15
)

// Phone types
const (
	PhoneTypeNone = 0
	PhoneTypeGSM  = 1
	PhoneTypeCDMA = 2
)

// Active connection types. Mobile data connections span
// ConnectionTypeMobile and ConnectionTypeMobileMMS..ConnectionTypeMobileHIPRI.
const (
	ConnectionTypeMobile      = 0
	ConnectionTypeWiFi        = 1
	ConnectionTypeMobileMMS   = 2
	ConnectionTypeMobileSUPL  = 3
	ConnectionTypeMobileDUN   = 4
	ConnectionTypeMobileHIPRI = 5
	ConnectionTypeWiMAX       = 6
	ConnectionTypeBluetooth   = 7
	ConnectionTypeEthernet    = 9
)

// UnknownRSSI is the raw neighbor RSSI reported when no reading is available
const UnknownRSSI = 99

// NetworkTypeName returns a short display name for a network type code
func NetworkTypeName(networkType int) string {
	switch networkType {
	case NetworkTypeGPRS:
		return "GPRS"
	case NetworkTypeEDGE:
		return "EDGE"
	case NetworkTypeUMTS:
		return "UMTS"
	case NetworkTypeCDMA:
		return "CDMA"
	case NetworkTypeEVDO0:
		return "EVDO_0"
	case NetworkTypeEVDOA:
		return "EVDO_A"
	case NetworkType1xRTT:
		return "1xRTT"
	case NetworkTypeHSDPA:
		return "HSDPA"
	case NetworkTypeHSUPA:
		return "HSUPA"
	case NetworkTypeHSPA:
		return "HSPA"
	case NetworkTypeIDEN:
		return "iDEN"
	case NetworkTypeEVDOB:
		return "EVDO_B"
	case NetworkTypeLTE:
		return "LTE"
	case NetworkTypeEHRPD:
		return "eHRPD"
	case NetworkTypeHSPAP:
		return "HSPA+"
	default:
		return "unknown"
	}
}

// IsMobileConnection reports whether a connection type carries mobile data
func IsMobileConnection(connectionType int) bool {
	if connectionType == ConnectionTypeMobile {
		return true
	}
	return connectionType >= ConnectionTypeMobileMMS && connectionType <= ConnectionTypeMobileHIPRI
}
