package utils

import (
	"crypto/rand"
	"errors"
	"strings"
)

// SixIDHookFunc defines the signature for the NewSixID test hook.
// It returns a SixID and a boolean indicating whether to override the default generation.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook is a package-level variable that tests can set to override NewSixID behavior.
var NewSixIDHook SixIDHookFunc

// SixID is a 6-byte random identifier used for actors, quotes, conversations and messages.
// It renders as 10 Crockford Base32 characters.
type SixID [6]byte

// NewSixID creates a new 6-byte SixID using random data
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}

	var id SixID
	_, err := rand.Read(id[:])
	if err != nil {
		// fallback to zeros if random fails
		for i := range id {
			id[i] = 0
		}
	}
	return id
}

// IsZero reports whether the id was never assigned.
func (u SixID) IsZero() bool {
	return u == SixID{}
}

// ParseSixID parses a string into a SixID from its Crockford Base32 string representation.
func ParseSixID(s string) (SixID, error) {
	return ParseCrockfordSixID(s)
}

// MustParseSixID is ParseSixID for fixtures and seeds; it panics on malformed input.
func MustParseSixID(s string) SixID {
	id, err := ParseSixID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Crockford Base32 encoding alphabet (uppercase)
const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Mapping from Crockford Base32 chars to their values
var crockfordDecodeMap map[byte]byte

func init() {
	crockfordDecodeMap = make(map[byte]byte, 32)
	for i := range crockfordAlphabet {
		crockfordDecodeMap[crockfordAlphabet[i]] = byte(i)
	}

	lower := strings.ToLower(crockfordAlphabet)
	for i := range lower {
		if i >= 10 { // Skip numbers
			crockfordDecodeMap[lower[i]] = byte(i)
		}
	}

	// Commonly confused characters
	crockfordDecodeMap['O'] = crockfordDecodeMap['0']
	crockfordDecodeMap['o'] = crockfordDecodeMap['0']
	crockfordDecodeMap['i'] = crockfordDecodeMap['1']
	crockfordDecodeMap['I'] = crockfordDecodeMap['1']
	crockfordDecodeMap['l'] = crockfordDecodeMap['1']
	crockfordDecodeMap['L'] = crockfordDecodeMap['1']
}

// String returns the Crockford Base32 (uppercase) representation of the 6-byte SixID
func (u SixID) String() string {
	var bytes = u[:]

	// 6 bytes = 48 bits, requires ceil(48/5) = 10 characters in Base32
	result := make([]byte, 10)
	var bits, offset uint
	resultIndex := 0

	for i := 0; i < 6; i++ {
		bits |= uint(bytes[i]) << offset
		offset += 8

		for offset >= 5 {
			result[resultIndex] = crockfordAlphabet[bits&0x1F]
			resultIndex++
			bits >>= 5
			offset -= 5
		}
	}

	if offset > 0 {
		result[resultIndex] = crockfordAlphabet[bits&0x1F]
		resultIndex++
	}

	return string(result[:resultIndex])
}

// ParseCrockfordSixID converts a Crockford Base32 string back to 6-byte SixID
func ParseCrockfordSixID(s string) (SixID, error) {
	if s == "" {
		return SixID{}, nil
	}

	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")

	if len(s) != 10 {
		return SixID{}, errors.New("invalid Crockford Base32 SixID: string length must be 10")
	}

	var bits uint64
	var offset uint
	bytes := make([]byte, 6)
	byteIndex := 0

	for i := 0; i < 10; i++ {
		val, ok := crockfordDecodeMap[s[i]]
		if !ok {
			return SixID{}, errors.New("invalid character in Crockford Base32 SixID")
		}

		bits |= uint64(val) << offset
		offset += 5

		for offset >= 8 && byteIndex < 6 {
			bytes[byteIndex] = byte(bits & 0xFF)
			byteIndex++
			bits >>= 8
			offset -= 8
		}
	}

	if byteIndex != 6 {
		return SixID{}, errors.New("invalid Crockford Base32 SixID: couldn't decode 6 bytes")
	}

	var id SixID
	copy(id[:], bytes)
	return id, nil
}

// MarshalText renders the id in Crockford Base32. encoding/json uses it for values and map keys.
func (u SixID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText parses a Crockford Base32 id.
func (u *SixID) UnmarshalText(data []byte) error {
	parsed, err := ParseSixID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Pair is an unordered pair of ids. Two pairs built from the same ids in any order are equal.
type Pair [2]SixID

// NewPair normalises a and b so that NewPair(a, b) == NewPair(b, a).
func NewPair(a, b SixID) Pair {
	if lessID(b, a) {
		a, b = b, a
	}
	return Pair{a, b}
}

// Contains reports whether id is one of the pair members.
func (p Pair) Contains(id SixID) bool {
	return p[0] == id || p[1] == id
}

// Other returns the member that is not id. ok is false if id is not in the pair.
func (p Pair) Other(id SixID) (other SixID, ok bool) {
	switch id {
	case p[0]:
		return p[1], true
	case p[1]:
		return p[0], true
	}
	return SixID{}, false
}

func lessID(a, b SixID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
