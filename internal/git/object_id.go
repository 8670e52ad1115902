package git

import (
	"fmt"
	"regexp"
	"strings"
)

// ObjectHashSHA1 is the implementation of the SHA1 object hash.
var ObjectHashSHA1 = ObjectHash{
	Format:       "sha1",
	EncodedLen:   40,
	ZeroOID:      ObjectID("0000000000000000000000000000000000000000"),
	EmptyTreeOID: ObjectID("4b825dc642cb6eb9a060e54bf8d69288fbee4904"),
}

// ObjectHashSHA256 is the implementation of the SHA256 object hash.
var ObjectHashSHA256 = ObjectHash{
	Format:       "sha256",
	EncodedLen:   64,
	ZeroOID:      ObjectID("0000000000000000000000000000000000000000000000000000000000000000"),
	EmptyTreeOID: ObjectID("6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321"),
}

// ObjectHash is a hash function used to address content in a repository.
type ObjectHash struct {
	// Format is the name of the object hash.
	Format string
	// EncodedLen is the length of the hex-encoded object ID.
	EncodedLen int
	// ZeroOID is the null object ID, consisting only of zeroes.
	ZeroOID ObjectID
	// EmptyTreeOID is the object ID of the tree with no entries.
	EmptyTreeOID ObjectID
}

// ObjectHashByFormat looks up the ObjectHash by its format name.
func ObjectHashByFormat(format string) (ObjectHash, error) {
	switch format {
	case ObjectHashSHA1.Format:
		return ObjectHashSHA1, nil
	case ObjectHashSHA256.Format:
		return ObjectHashSHA256, nil
	default:
		return ObjectHash{}, fmt.Errorf("unknown object format: %q", format)
	}
}

var regexpHex = regexp.MustCompile(`\A[0-9a-f]+\z`)

// FromHex constructs a new ObjectID from the given hex representation. It
// returns an error in case the hex representation is not valid for this hash.
func (h ObjectHash) FromHex(hex string) (ObjectID, error) {
	if err := h.ValidateHex(hex); err != nil {
		return "", err
	}

	return ObjectID(hex), nil
}

// ValidateHex checks if the given hex-encoded object ID is valid for this
// object hash.
func (h ObjectHash) ValidateHex(hex string) error {
	if len(hex) != h.EncodedLen || !regexpHex.MatchString(hex) {
		return InvalidObjectIDError(hex)
	}

	return nil
}

// IsZeroOID determines whether the given object ID is the all-zeroes one.
func (h ObjectHash) IsZeroOID(oid ObjectID) bool {
	return string(oid) == string(h.ZeroOID)
}

// InvalidObjectIDError is returned when an object ID is not valid.
type InvalidObjectIDError string

// Error returns the error message.
func (e InvalidObjectIDError) Error() string {
	return fmt.Sprintf("invalid object ID: %q", string(e))
}

// ObjectID represents an object ID in its hex-encoded form.
type ObjectID string

// String returns the hex representation of the ObjectID.
func (oid ObjectID) String() string {
	return string(oid)
}

// IsZero determines whether the object ID consists only of zeroes, which is
// the convention for "no object" in reference updates.
func (oid ObjectID) IsZero() bool {
	return len(oid) > 0 && strings.Count(string(oid), "0") == len(oid)
}
