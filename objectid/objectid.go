// Package objectid implements the 12-byte identifiers assigned to every
// stored file version.
//
// Layout:
//
//   - 4 bytes: timestamp (seconds since epoch)
//   - 3 bytes: machine identifier
//   - 2 bytes: process id
//   - 3 bytes: counter
//
// The hex form sorts in creation order for ids minted by one process within
// the same second, which makes it usable as a deterministic tie-breaker.
package objectid

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"
)

// ID is a 12-byte unique identifier similar to MongoDB's ObjectID.
type ID [12]byte

// Nil is the zero ID.
var Nil ID

var ErrInvalidHex = errors.New("objectid: invalid hex representation")

var (
	// machineID is a 3-byte unique identifier for this machine
	machineID = readMachineID()

	// counter is an atomically incremented counter (3 bytes)
	counter = readRandomUint32()
)

func readMachineID() [3]byte {
	var mid [3]byte
	hostname, err := os.Hostname()
	if err != nil {
		_, _ = io.ReadFull(rand.Reader, mid[:])
		return mid
	}

	hw := make([]byte, 32)
	copy(hw, hostname)
	copy(mid[:], hw[:3])
	return mid
}

func readRandomUint32() uint32 {
	var b [4]byte
	_, _ = io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// New generates a new unique ID stamped with the current time.
func New() ID {
	return NewAt(time.Now())
}

// NewAt generates a new unique ID stamped with t.
func NewAt(t time.Time) ID {
	var id ID

	binary.BigEndian.PutUint32(id[0:4], uint32(t.Unix()))
	copy(id[4:7], machineID[:])
	binary.BigEndian.PutUint16(id[7:9], uint16(os.Getpid()))

	c := atomic.AddUint32(&counter, 1)
	id[9] = byte(c >> 16)
	id[10] = byte(c >> 8)
	id[11] = byte(c)

	return id
}

// Parse decodes the 24-character hex form of an ID.
func Parse(s string) (ID, error) {
	var id ID
	if len(s) != 2*len(id) {
		return Nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Nil, fmt.Errorf("%w: %q", ErrInvalidHex, s)
	}
	return id, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests
// and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IsValid reports whether s is the hex form of an ID.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Hex returns the 24-character lowercase hex form.
func (id ID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id ID) String() string {
	return id.Hex()
}

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool {
	return id == Nil
}

// Timestamp returns the creation second encoded in the id.
func (id ID) Timestamp() time.Time {
	return time.Unix(int64(binary.BigEndian.Uint32(id[0:4])), 0).UTC()
}

// Compare orders ids bytewise, which matches the ordering of their hex form.
func (id ID) Compare(other ID) int {
	for i := range id {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.Hex()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the id in its hex form so ORDER BY on the column follows
// byte order.
func (id ID) Value() (driver.Value, error) {
	return id.Hex(), nil
}

func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		return id.UnmarshalText(v)
	case nil:
		*id = Nil
		return nil
	default:
		return fmt.Errorf("objectid: cannot scan %T", src)
	}
}
