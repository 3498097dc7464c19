package store

import (
	"strconv"
	"strings"
)

func floatString(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// riderIDFromMember extracts the riderID portion of a
// "<riderId>:<epochMillis>" sorted-set member, per positionsTimelineMember.
func riderIDFromMember(member string) string {
	idx := strings.LastIndex(member, ":")
	if idx < 0 {
		return member
	}
	return member[:idx]
}
