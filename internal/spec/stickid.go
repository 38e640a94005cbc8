package spec

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

/* STICK IDS */

// Identifies one generation of a sticky session. On the wire it
// is the party id immediately followed by the decimal chain id.
type StickID struct {
	Party string
	Chain uint32
}

var (
	ErrorStickFormat error = errors.New("malformed stick id")      // malformed stick id
	ErrorPartyFormat error = errors.New("party id must be 36 bytes") // party id must be 36 bytes
)

// Creates a stick id for the given party and chain,
// failing if the party does not have the fixed width.
func NewStickID(party string, chain uint32) (StickID, error) {
	if len(party) != PartyIDSize {
		return StickID{}, ErrorPartyFormat
	}

	return StickID{
		Party: party,
		Chain: chain,
	}, nil
}

// Splits a wire stick id at the fixed party width.
func ParseStickID(s string) (StickID, error) {
	if len(s) <= PartyIDSize {
		return StickID{}, ErrorStickFormat
	}

	suffix := s[PartyIDSize:]
	// Reject signs and spaces that ParseUint would otherwise accept
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return StickID{}, ErrorStickFormat
		}
	}

	chain, err := strconv.ParseUint(suffix, 10, 32)
	if err != nil {
		return StickID{}, ErrorStickFormat
	}

	return StickID{
		Party: s[:PartyIDSize],
		Chain: uint32(chain),
	}, nil
}

// Wire representation of the stick id.
func (s StickID) String() string {
	return s.Party + strconv.FormatUint(uint64(s.Chain), 10)
}

// Stick id of the chain that follows this one.
func (s StickID) Next() StickID {
	return StickID{
		Party: s.Party,
		Chain: s.Chain + 1,
	}
}

// Mints a new random party id.
func NewPartyID() string {
	return uuid.NewString()
}

// Stable hash of a set of participant ids, independent of
// the order they are given in. Duplicates are ignored.
func PartyHash(ids ...string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "")))
	return hex.EncodeToString(sum[:])
}

/* ADDRESSING */

// Indicates how a sender key participant is identified.
type AddressKind uint8

const (
	ByUser      AddressKind = iota + 1 // Durable user id, used by sticky sessions
	ByOneTimeID                        // Ephemeral one time id, used by standard sessions
)

// Identifies either side of a decryption sender key.
type Address struct {
	Kind AddressKind
	ID   string
}

// Addresses a participant by their user id.
func UserAddress(id string) Address {
	return Address{ByUser, id}
}

// Addresses a participant by their one time id.
func OneTimeAddress(id string) Address {
	return Address{ByOneTimeID, id}
}

// Whether the address has a known kind and a non empty id.
func (a Address) Valid() bool {
	switch a.Kind {
	case ByUser, ByOneTimeID:
		return a.ID != ""
	default:
		return false
	}
}

func (a Address) String() string {
	switch a.Kind {
	case ByUser:
		return "user:" + a.ID
	case ByOneTimeID:
		return "otid:" + a.ID
	default:
		return "invalid:" + a.ID
	}
}
