package key

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // digest format is fixed by the storage layout

	"github.com/dreamware/torua-kv/internal/status"
)

const (
	// DigestSize is the length of a record digest in bytes
	DigestSize = ripemd160.Size

	// PartitionCount is the cluster-wide number of partitions
	PartitionCount = 4096
)

// Digest identifies a record within a namespace
type Digest [DigestSize]byte

// PartitionID selects the partition that owns a digest
type PartitionID uint16

// Type tags the encoding of a user key inside the digest input
type Type uint8

const (
	TypeInt    Type = 1
	TypeString Type = 3
	TypeBytes  Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// UserKey is the caller-supplied primary key: an integer, a string or a byte
// sequence. Exactly one field matching Type is meaningful.
type UserKey struct {
	Str   string `json:"str,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
	Int   int64  `json:"int,omitempty"`
	Type  Type   `json:"type"`
}

// Int returns an integer user key
func Int(v int64) UserKey { return UserKey{Type: TypeInt, Int: v} }

// String returns a string user key
func String(s string) UserKey { return UserKey{Type: TypeString, Str: s} }

// Bytes returns a byte-sequence user key. The slice is copied.
func Bytes(b []byte) UserKey {
	return UserKey{Type: TypeBytes, Bytes: append([]byte(nil), b...)}
}

// UserKeyOf converts a Go value into a UserKey. Signed and unsigned integers,
// strings and byte slices are accepted.
func UserKeyOf(pk any) (UserKey, error) {
	switch v := pk.(type) {
	case UserKey:
		return v, v.validate()
	case *UserKey:
		if v == nil {
			return UserKey{}, status.New(status.ErrParam, "user key is nil")
		}
		return *v, v.validate()
	case int:
		return Int(int64(v)), nil
	case int8:
		return Int(int64(v)), nil
	case int16:
		return Int(int64(v)), nil
	case int32:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case uint8:
		return Int(int64(v)), nil
	case uint16:
		return Int(int64(v)), nil
	case uint32:
		return Int(int64(v)), nil
	case uint:
		if uint64(v) > math.MaxInt64 {
			return UserKey{}, status.New(status.ErrParam, "user key %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return UserKey{}, status.New(status.ErrParam, "user key %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case string:
		return String(v), nil
	case []byte:
		return Bytes(v), nil
	case nil:
		return UserKey{}, status.New(status.ErrParam, "user key is nil")
	}
	return UserKey{}, status.New(status.ErrParam, "unsupported user key type %T", pk)
}

func (u UserKey) validate() error {
	switch u.Type {
	case TypeInt, TypeString, TypeBytes:
		return nil
	}
	return status.New(status.ErrParam, "unsupported user key %s", u.Type)
}

// Value returns the key as a plain Go value (int64, string or []byte)
func (u UserKey) Value() any {
	switch u.Type {
	case TypeInt:
		return u.Int
	case TypeString:
		return u.Str
	case TypeBytes:
		return u.Bytes
	}
	return nil
}

func (u UserKey) String() string {
	switch u.Type {
	case TypeInt:
		return fmt.Sprintf("%d", u.Int)
	case TypeString:
		return u.Str
	case TypeBytes:
		return hex.EncodeToString(u.Bytes)
	}
	return "<invalid>"
}

// encode appends the type-tagged representation hashed into the digest
func (u UserKey) encode(buf []byte) []byte {
	buf = append(buf, byte(u.Type))
	switch u.Type {
	case TypeInt:
		buf = binary.BigEndian.AppendUint64(buf, uint64(u.Int))
	case TypeString:
		buf = append(buf, u.Str...)
	case TypeBytes:
		buf = append(buf, u.Bytes...)
	}
	return buf
}

// DigestOf computes the record digest for (namespace, set, user key).
// The layout is namespace || uint32be(len(set)) || set || type || key bytes
// and must stay stable: digests are the persisted identity of records.
func DigestOf(namespace, set string, pk UserKey) Digest {
	buf := make([]byte, 0, len(namespace)+4+len(set)+1+16)
	buf = append(buf, namespace...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(set)))
	buf = append(buf, set...)
	buf = pk.encode(buf)

	h := ripemd160.New()
	h.Write(buf)

	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// PartitionOf derives the partition id from the first two digest bytes
func PartitionOf(d Digest) PartitionID {
	return PartitionID(binary.LittleEndian.Uint16(d[0:2]) % PartitionCount)
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText encodes the digest as lowercase hex
func (d Digest) MarshalText() ([]byte, error) {
	out := make([]byte, hex.EncodedLen(DigestSize))
	hex.Encode(out, d[:])
	return out, nil
}

// UnmarshalText decodes a hex digest
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a 40 character hex digest
func ParseDigest(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, status.Wrap(status.ErrParam, err, "digest %q is not hex", s)
	}
	return DigestFromBytes(raw)
}

// DigestFromBytes copies raw into a Digest. raw must be exactly DigestSize
// bytes long.
func DigestFromBytes(raw []byte) (Digest, error) {
	var d Digest
	if len(raw) != DigestSize {
		return d, status.New(status.ErrParam, "digest must be %d bytes, got %d", DigestSize, len(raw))
	}
	copy(d[:], raw)
	return d, nil
}

// Key addresses one record. Namespace and Set never change once the Key is
// built; Digest is always populated.
type Key struct {
	UserKey   *UserKey `json:"user_key,omitempty"`
	Namespace string   `json:"ns"`
	Set       string   `json:"set"`
	Digest    Digest   `json:"digest"`
}

// New builds a Key from a user key and derives its digest
func New(namespace, set string, pk any) (*Key, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	uk, err := UserKeyOf(pk)
	if err != nil {
		return nil, err
	}
	return &Key{
		Namespace: namespace,
		Set:       set,
		UserKey:   &uk,
		Digest:    DigestOf(namespace, set, uk),
	}, nil
}

// NewFromDigest builds a Key around a precomputed digest. Such a key has no
// recoverable user key.
func NewFromDigest(namespace, set string, digest []byte) (*Key, error) {
	if err := validateNamespace(namespace); err != nil {
		return nil, err
	}
	d, err := DigestFromBytes(digest)
	if err != nil {
		return nil, err
	}
	return &Key{Namespace: namespace, Set: set, Digest: d}, nil
}

// Init builds a Key the way callers describe it: when isDigest is set pk must
// be a byte slice of exactly DigestSize bytes.
func Init(namespace, set string, pk any, isDigest bool) (*Key, error) {
	if !isDigest {
		return New(namespace, set, pk)
	}
	switch v := pk.(type) {
	case []byte:
		return NewFromDigest(namespace, set, v)
	case string:
		return NewFromDigest(namespace, set, []byte(v))
	case Digest:
		return NewFromDigest(namespace, set, v[:])
	}
	return nil, status.New(status.ErrParam, "digest must be a byte sequence, got %T", pk)
}

func validateNamespace(ns string) error {
	if ns == "" {
		return status.New(status.ErrParam, "namespace is required")
	}
	if len(ns) > 31 {
		return status.New(status.ErrParam, "namespace %q longer than 31 bytes", ns)
	}
	return nil
}

// Partition returns the partition owning the key
func (k *Key) Partition() PartitionID {
	return PartitionOf(k.Digest)
}

// HasUserKey reports whether the key was built from a user key
func (k *Key) HasUserKey() bool {
	return k.UserKey != nil
}

func (k *Key) String() string {
	if k.UserKey != nil {
		return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Set, k.UserKey)
	}
	return fmt.Sprintf("%s:%s:%s", k.Namespace, k.Set, k.Digest)
}
