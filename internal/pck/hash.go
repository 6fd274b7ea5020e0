package pck

// fnv32aOffset and fnv32aPrime are the standard FNV-1a 32-bit constants.
// inputHash is a cheap, non-cryptographic fingerprint used only advisorily
// for similar-starting-point lookups; collisions are expected and callers
// must not treat it as an identity. Do not upgrade without checking every
// caller — see the open questions this preserves.
const (
	fnv32aOffset uint32 = 2166136261
	fnv32aPrime  uint32 = 16777619
)

// inputHash computes the rolling FNV-1a hash of text.
func inputHash(text string) uint32 {
	h := fnv32aOffset
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= fnv32aPrime
	}
	return h
}
