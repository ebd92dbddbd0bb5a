package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// ExistsPolicy controls how a write treats an existing or missing record
type ExistsPolicy int

const (
	ExistsIgnore ExistsPolicy = iota
	ExistsCreate
	ExistsUpdate
	ExistsReplace
	ExistsCreateOrReplace
)

// GenMode selects the generation check applied before a write
type GenMode int

const (
	GenIgnore GenMode = iota
	GenEQ
	GenGT
)

// KeyPolicy selects whether the user key is stored next to the digest
type KeyPolicy int

const (
	KeyDigest KeyPolicy = iota
	KeySend
)

// CommitLevel selects which replicas must apply a write before it succeeds
type CommitLevel int

const (
	CommitAll CommitLevel = iota
	CommitMaster
)

// ReplicaPolicy selects the copy a read is served from
type ReplicaPolicy int

const (
	ReplicaMaster ReplicaPolicy = iota
	ReplicaAny
	ReplicaSequence
)

// ConsistencyLevel selects how many replicas a read consults
type ConsistencyLevel int

const (
	ConsistencyOne ConsistencyLevel = iota
	ConsistencyAll
)

// RetryPolicy selects whether transient failures are retried
type RetryPolicy int

const (
	RetryNone RetryPolicy = iota
	RetryOnce
)

// MapWriteMode controls how map puts treat existing keys
type MapWriteMode int

const (
	MapUpdate MapWriteMode = iota
	MapUpdateOnly
	MapCreateOnly
)

// MapReturnType selects what a map or list selector operation returns
type MapReturnType int

const (
	ReturnNone MapReturnType = iota
	ReturnIndex
	ReturnReverseIndex
	ReturnRank
	ReturnReverseRank
	ReturnCount
	ReturnKey
	ReturnValue
	ReturnKeyValue
)

// enumNames holds the symbolic names of one enumeration. Names are accepted
// in full ("POLICY_EXISTS_CREATE") or without prefix ("create").
type enumNames[T ~int] struct {
	prefix string
	names  []string
}

func (e enumNames[T]) name(v T) string {
	if int(v) >= 0 && int(v) < len(e.names) && e.names[v] != "" {
		return e.names[v]
	}
	return fmt.Sprintf("%s%d", e.prefix, int(v))
}

func (e enumNames[T]) valid(v T) bool {
	return int(v) >= 0 && int(v) < len(e.names) && e.names[v] != ""
}

func (e enumNames[T]) parse(text []byte) (T, error) {
	s := strings.TrimSpace(string(text))
	for i, name := range e.names {
		if name == "" {
			continue
		}
		if strings.EqualFold(s, name) || strings.EqualFold(e.prefix+s, name) {
			return T(i), nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && e.valid(T(n)) {
		return T(n), nil
	}
	return 0, fmt.Errorf("unknown %svalue %q", e.prefix, s)
}

var (
	existsNames      = enumNames[ExistsPolicy]{"POLICY_EXISTS_", []string{"POLICY_EXISTS_IGNORE", "POLICY_EXISTS_CREATE", "POLICY_EXISTS_UPDATE", "POLICY_EXISTS_REPLACE", "POLICY_EXISTS_CREATE_OR_REPLACE"}}
	genNames         = enumNames[GenMode]{"POLICY_GEN_", []string{"POLICY_GEN_IGNORE", "POLICY_GEN_EQ", "POLICY_GEN_GT"}}
	keyNames         = enumNames[KeyPolicy]{"POLICY_KEY_", []string{"POLICY_KEY_DIGEST", "POLICY_KEY_SEND"}}
	commitNames      = enumNames[CommitLevel]{"POLICY_COMMIT_LEVEL_", []string{"POLICY_COMMIT_LEVEL_ALL", "POLICY_COMMIT_LEVEL_MASTER"}}
	replicaNames     = enumNames[ReplicaPolicy]{"POLICY_REPLICA_", []string{"POLICY_REPLICA_MASTER", "POLICY_REPLICA_ANY", "POLICY_REPLICA_SEQUENCE"}}
	consistencyNames = enumNames[ConsistencyLevel]{"POLICY_CONSISTENCY_", []string{"POLICY_CONSISTENCY_ONE", "POLICY_CONSISTENCY_ALL"}}
	retryNames       = enumNames[RetryPolicy]{"POLICY_RETRY_", []string{"POLICY_RETRY_NONE", "POLICY_RETRY_ONCE"}}
	writeModeNames   = enumNames[MapWriteMode]{"AS_MAP_", []string{"AS_MAP_UPDATE", "AS_MAP_UPDATE_ONLY", "AS_MAP_CREATE_ONLY"}}
	returnNames      = enumNames[MapReturnType]{"MAP_RETURN_", []string{
		"MAP_RETURN_NONE", "MAP_RETURN_INDEX", "MAP_RETURN_REVERSE_INDEX", "MAP_RETURN_RANK",
		"MAP_RETURN_REVERSE_RANK", "MAP_RETURN_COUNT", "MAP_RETURN_KEY", "MAP_RETURN_VALUE", "MAP_RETURN_KEY_VALUE",
	}}
)

func (p ExistsPolicy) String() string { return existsNames.name(p) }
func (p *ExistsPolicy) UnmarshalText(b []byte) (err error) {
	*p, err = existsNames.parse(b)
	return err
}

func (m GenMode) String() string { return genNames.name(m) }
func (m *GenMode) UnmarshalText(b []byte) (err error) {
	*m, err = genNames.parse(b)
	return err
}

func (p KeyPolicy) String() string { return keyNames.name(p) }
func (p *KeyPolicy) UnmarshalText(b []byte) (err error) {
	*p, err = keyNames.parse(b)
	return err
}

func (c CommitLevel) String() string { return commitNames.name(c) }
func (c *CommitLevel) UnmarshalText(b []byte) (err error) {
	*c, err = commitNames.parse(b)
	return err
}

func (r ReplicaPolicy) String() string { return replicaNames.name(r) }
func (r *ReplicaPolicy) UnmarshalText(b []byte) (err error) {
	*r, err = replicaNames.parse(b)
	return err
}

func (c ConsistencyLevel) String() string { return consistencyNames.name(c) }
func (c *ConsistencyLevel) UnmarshalText(b []byte) (err error) {
	*c, err = consistencyNames.parse(b)
	return err
}

func (r RetryPolicy) String() string { return retryNames.name(r) }
func (r *RetryPolicy) UnmarshalText(b []byte) (err error) {
	*r, err = retryNames.parse(b)
	return err
}

func (m MapWriteMode) String() string { return writeModeNames.name(m) }
func (m *MapWriteMode) UnmarshalText(b []byte) (err error) {
	*m, err = writeModeNames.parse(b)
	return err
}

func (r MapReturnType) String() string { return returnNames.name(r) }
func (r *MapReturnType) UnmarshalText(b []byte) (err error) {
	*r, err = returnNames.parse(b)
	return err
}

// Valid reports whether r is a known return type
func (r MapReturnType) Valid() bool { return returnNames.valid(r) }

// MarshalText encodes enumerants by their symbolic names so they read back
// through UnmarshalText.
func (p ExistsPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (m GenMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
func (p KeyPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
func (c CommitLevel) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (r ReplicaPolicy) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (c ConsistencyLevel) MarshalText() ([]byte, error) { return []byte(c.String()), nil }
func (r RetryPolicy) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
func (m MapWriteMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }
func (r MapReturnType) MarshalText() ([]byte, error) { return []byte(r.String()), nil }
