// Package util holds small helpers shared across EnrollPipe components.
package util

import (
	"math/rand/v2"
	"strings"
)

// registrationIDHexLength is the entropy carried by a registration ID,
// 128 bits rendered as hex.
const registrationIDHexLength = 32

// GenerateRegistrationID returns a fresh registration identifier of the form
// "reg_<32 hex chars>". IDs are generated once per confirmed registration and
// never reused; collisions at this length are not a practical concern.
func GenerateRegistrationID() string {
	return GenerateRandomID("reg_", registrationIDHexLength)
}

// GenerateRandomID concatenates prefix with a random hex string.
func GenerateRandomID(prefix string, hexLength int) string {
	return prefix + GenerateRandomHex(hexLength)
}

// GenerateRandomHex returns a random lowercase hex string. Identifiers here
// are not secrets, so math/rand/v2 is enough.
func GenerateRandomHex(length int) string {
	if length <= 0 {
		return ""
	}
	const hexChars = "0123456789abcdef"
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		b.WriteByte(hexChars[rand.IntN(16)])
	}
	return b.String()
}
