package record

import (
	"encoding/json"
	"time"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// NeverExpires is the TTL reported for records without an expiry
const NeverExpires int32 = -1

// Metadata is the per-record bookkeeping returned with reads and exists checks
type Metadata struct {
	Generation uint32 `json:"generation"` // Incremented on every successful write
	TTL        int32  `json:"ttl"`        // Seconds until expiry, NeverExpires if none
}

// Record is a fetched record. Bins is nil for exists-only results.
type Record struct {
	Key      *key.Key   `json:"key"`
	Metadata Metadata   `json:"metadata"`
	Bins     value.Bins `json:"bins,omitempty"`
}

// Stored is the node-side persisted form of a record, keyed by digest in
// storage. ExpiresAt is a unix timestamp in seconds, zero when the record
// never expires.
type Stored struct {
	UserKey    *key.UserKey `json:"user_key,omitempty"`
	Bins       value.Bins   `json:"bins"`
	Namespace  string       `json:"ns"`
	Set        string       `json:"set,omitempty"`
	ExpiresAt  int64        `json:"expires_at,omitempty"`
	UpdatedAt  int64        `json:"updated_at"`
	Generation uint32       `json:"generation"`
}

// Expired reports whether the record's expiry has passed at now
func (s *Stored) Expired(now time.Time) bool {
	return s.ExpiresAt != 0 && now.Unix() >= s.ExpiresAt
}

// TTL returns the remaining lifetime in seconds at now
func (s *Stored) TTL(now time.Time) int32 {
	if s.ExpiresAt == 0 {
		return NeverExpires
	}
	left := s.ExpiresAt - now.Unix()
	if left < 0 {
		return 0
	}
	return int32(left)
}

// Metadata returns the record metadata as observed at now
func (s *Stored) Metadata(now time.Time) Metadata {
	return Metadata{Generation: s.Generation, TTL: s.TTL(now)}
}

// Clone returns a deep copy that can be mutated without touching s
func (s *Stored) Clone() *Stored {
	c := *s
	c.Bins = s.Bins.Clone()
	if s.UserKey != nil {
		uk := *s.UserKey
		c.UserKey = &uk
	}
	return &c
}

// Select returns the bins named in names, with absent bins as explicit
// nulls. An empty names slice selects every bin.
func (s *Stored) Select(names []string) value.Bins {
	if len(names) == 0 {
		return s.Bins.Clone()
	}
	out := make(value.Bins, len(names))
	for _, n := range names {
		if v, ok := s.Bins[n]; ok {
			out[n] = value.Clone(v)
		} else {
			out[n] = value.Null{}
		}
	}
	return out
}

// Key rebuilds the client-facing key for a record stored under digest
func (s *Stored) Key(digest key.Digest) *key.Key {
	k := &key.Key{Namespace: s.Namespace, Set: s.Set, Digest: digest}
	if s.UserKey != nil {
		uk := *s.UserKey
		k.UserKey = &uk
	}
	return k
}

// Encode serializes s for a storage backend
func (s *Stored) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, status.Wrap(status.ErrServer, err, "encode record")
	}
	return data, nil
}

// Decode parses a record produced by Encode
func Decode(data []byte) (*Stored, error) {
	var s Stored
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, status.Wrap(status.ErrServer, err, "decode record")
	}
	if s.Bins == nil {
		s.Bins = value.Bins{}
	}
	return &s, nil
}
