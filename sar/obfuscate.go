package sar

// obfuscationSeed is the initial value of the per-file key hash.
const obfuscationSeed uint32 = 0x54007b47

// ObfuscationKey derives the XOR key for a file from its relative path.
// The derivation is case-insensitive.
func ObfuscationKey(relativePath string) uint32 {
	key := obfuscationSeed
	for i := 0; i < len(relativePath); i++ {
		c := relativePath[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		key = key*33 + uint32(c)
	}
	return key
}

// Obfuscate XORs data in place with the keystream for key. position is the
// offset of data[0] within the file, so a file can be processed in pieces.
// Obfuscate is its own inverse.
func Obfuscate(key uint32, data []byte, position uint64) {
	for i := range data {
		p := position + uint64(i)
		data[i] ^= byte((key >> ((p % 4) << 3)) + uint32(p/4)*101) //nolint:gosec // truncation is the keystream
	}
}
