package security

import (
	"crypto/rand"
)

// WipeBytes overwrites a byte slice in place, alternating random data
// and zeros. Used on decoded passwords and key passphrases once a
// connection attempt has consumed them.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	for pass := 0; pass < 2; pass++ {
		rand.Read(data)
		for i := range data {
			data[i] = 0
		}
	}
}

// WipeString clears the caller's string variable. The original backing
// memory cannot be touched because Go strings are immutable; keep
// sensitive material in []byte where WipeBytes can reach it.
func WipeString(s *string) {
	if s == nil || *s == "" {
		return
	}
	WipeBytes([]byte(*s))
	*s = ""
}
