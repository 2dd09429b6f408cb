package types

// TrustLevel classifies how much latitude a calling agent has. Higher levels
// tolerate higher sanitizer risk before escalation.
type TrustLevel string

const (
	TrustLow      TrustLevel = "low"
	TrustStandard TrustLevel = "standard"
	TrustElevated TrustLevel = "elevated"
	TrustSystem   TrustLevel = "system"
)

// Level returns a numeric level for comparison. Higher values mean more trusted.
func (t TrustLevel) Level() int {
	switch t {
	case TrustLow:
		return 0
	case TrustStandard:
		return 1
	case TrustElevated:
		return 2
	case TrustSystem:
		return 3
	default:
		return -1
	}
}

// AtLeast returns true if this trust level meets or exceeds the given level.
func (t TrustLevel) AtLeast(min TrustLevel) bool {
	return t.Level() >= min.Level()
}

func ParseTrustLevel(s string) (TrustLevel, bool) {
	switch TrustLevel(s) {
	case TrustLow, TrustStandard, TrustElevated, TrustSystem:
		return TrustLevel(s), true
	default:
		return "", false
	}
}
