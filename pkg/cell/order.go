package cell

import "cmp"

// Compare orders two towers for display: serving towers first, then by
// generation (later ones first). Towers of the same family are further
// ordered by their identity fields and finally by source flags, with Unknown
// sorting after any real value. Towers of different families that tie on
// serving state and generation compare as 0.
func Compare(a, b *Tower) int {
	if a == nil || b == nil {
		return 0
	}
	res := 0
	if a.IsServing() {
		res--
	}
	if b.IsServing() {
		res++
	}
	if res != 0 {
		return res
	}
	if res = -compareInts(a.generation, b.generation); res != 0 {
		return res
	}
	if a.family != b.family {
		return 0
	}

	var l, r [5]int
	switch a.family {
	case FamilyGSM:
		l = [5]int{a.gsm.MCC, a.gsm.MNC, a.gsm.LAC, a.gsm.CID, a.gsm.PSC}
		r = [5]int{b.gsm.MCC, b.gsm.MNC, b.gsm.LAC, b.gsm.CID, b.gsm.PSC}
	case FamilyCDMA:
		l = [5]int{a.cdma.SID, a.cdma.NID, a.cdma.BSID}
		r = [5]int{b.cdma.SID, b.cdma.NID, b.cdma.BSID}
	case FamilyLTE:
		l = [5]int{a.lte.MCC, a.lte.MNC, a.lte.TAC, a.lte.CI, a.lte.PCI}
		r = [5]int{b.lte.MCC, b.lte.MNC, b.lte.TAC, b.lte.CI, b.lte.PCI}
	}
	for i := range l {
		if res = compareInts(l[i], r[i]); res != 0 {
			return res
		}
	}
	return compareInts(int(a.source), int(b.source))
}

// CompareTo compares t with an arbitrary value.
//
// Note: this ordering is inconsistent with identity. If other is not a
// tower the result is 0, and towers of different families may compare as 0
// without being the same cell. Do not use it as a map or set key.
func (t *Tower) CompareTo(other any) int {
	switch o := other.(type) {
	case *Tower:
		return Compare(t, o)
	case Tower:
		return Compare(t, &o)
	default:
		return 0
	}
}

// compareInts compares two values for ascending order, placing Unknown last
func compareInts(l, r int) int {
	if l == r {
		return 0
	}
	if l == Unknown {
		return 1
	}
	if r == Unknown {
		return -1
	}
	return cmp.Compare(l, r)
}
