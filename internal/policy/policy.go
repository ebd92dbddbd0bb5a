package policy

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// TTL sentinels
const (
	TTLNamespaceDefault int32 = 0
	TTLNeverExpire      int32 = -1
	TTLDontUpdate       int32 = -2
)

// Generation is the OPT_POLICY_GEN pair: a check mode and the generation
// the record is compared against.
type Generation struct {
	Mode  GenMode `json:"mode"`
	Value uint32  `json:"value"`
}

// MapPolicy configures map sub-operations
type MapPolicy struct {
	Order     value.MapOrder `mapstructure:"OPT_MAP_ORDER" json:"order"`
	WriteMode MapWriteMode   `mapstructure:"OPT_MAP_WRITE_MODE" json:"write_mode"`
}

// Options is one configuration layer. A nil field leaves the option to the
// layers below it.
type Options struct {
	ConnectTimeout      *time.Duration        `mapstructure:"OPT_CONNECT_TIMEOUT"`
	ReadTimeout         *time.Duration        `mapstructure:"OPT_READ_TIMEOUT"`
	WriteTimeout        *time.Duration        `mapstructure:"OPT_WRITE_TIMEOUT"`
	SocketTimeout       *time.Duration        `mapstructure:"OPT_SOCKET_TIMEOUT"`
	SleepBetweenRetries *time.Duration        `mapstructure:"OPT_SLEEP_BETWEEN_RETRIES"`
	TTL                 *int32                `mapstructure:"OPT_TTL"`
	Key                 *KeyPolicy            `mapstructure:"OPT_POLICY_KEY"`
	Exists              *ExistsPolicy         `mapstructure:"OPT_POLICY_EXISTS"`
	Gen                 *Generation           `mapstructure:"OPT_POLICY_GEN"`
	CommitLevel         *CommitLevel          `mapstructure:"OPT_POLICY_COMMIT_LEVEL"`
	Replica             *ReplicaPolicy        `mapstructure:"OPT_POLICY_REPLICA"`
	Consistency         *ConsistencyLevel     `mapstructure:"OPT_POLICY_CONSISTENCY"`
	Retry               *RetryPolicy          `mapstructure:"OPT_POLICY_RETRY"`
	Serializer          *value.SerializerMode `mapstructure:"OPT_SERIALIZER"`
	Deserialize         *bool                 `mapstructure:"OPT_DESERIALIZE"`
	UseBatchDirect      *bool                 `mapstructure:"USE_BATCH_DIRECT"`
	DurableDelete       *bool                 `mapstructure:"OPT_POLICY_DURABLE_DELETE"`
	MapPolicy           *MapPolicy            `mapstructure:"map_policy"`
	MapReturnType       *MapReturnType        `mapstructure:"OPT_MAP_RETURN_TYPE"`
}

// Policy is the effective configuration of one operation. It is a value and
// is not modified while the operation runs.
type Policy struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	SocketTimeout       time.Duration
	SleepBetweenRetries time.Duration
	TTL                 int32
	Key                 KeyPolicy
	Exists              ExistsPolicy
	Gen                 Generation
	CommitLevel         CommitLevel
	Replica             ReplicaPolicy
	Consistency         ConsistencyLevel
	Retry               RetryPolicy
	Serializer          value.SerializerMode
	Deserialize         bool
	UseBatchDirect      bool
	DurableDelete       bool
	MapPolicy           MapPolicy
	// MapReturnType is nil unless a layer configured a default
	MapReturnType *MapReturnType
}

// Defaults returns the built-in policy
func Defaults() Policy {
	return Policy{
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		TTL:            TTLNamespaceDefault,
		Key:            KeyDigest,
		Exists:         ExistsIgnore,
		Gen:            Generation{Mode: GenIgnore},
		CommitLevel:    CommitAll,
		Replica:        ReplicaMaster,
		Consistency:    ConsistencyOne,
		Retry:          RetryNone,
		Serializer:     value.SerializerUser,
		Deserialize:    true,
		MapPolicy:      MapPolicy{Order: value.MapUnordered, WriteMode: MapUpdate},
	}
}

// Resolve layers opts over the defaults, left to right: later layers win.
func Resolve(layers ...Options) (Policy, error) {
	return Defaults().With(layers...)
}

// With returns a copy of p with each layer applied in order
func (p Policy) With(layers ...Options) (Policy, error) {
	for _, o := range layers {
		if err := o.Validate(); err != nil {
			return Policy{}, err
		}
		p.apply(o)
	}
	return p, nil
}

func (p *Policy) apply(o Options) {
	setIf(&p.ConnectTimeout, o.ConnectTimeout)
	setIf(&p.ReadTimeout, o.ReadTimeout)
	setIf(&p.WriteTimeout, o.WriteTimeout)
	setIf(&p.SocketTimeout, o.SocketTimeout)
	setIf(&p.SleepBetweenRetries, o.SleepBetweenRetries)
	setIf(&p.TTL, o.TTL)
	setIf(&p.Key, o.Key)
	setIf(&p.Exists, o.Exists)
	setIf(&p.Gen, o.Gen)
	setIf(&p.CommitLevel, o.CommitLevel)
	setIf(&p.Replica, o.Replica)
	setIf(&p.Consistency, o.Consistency)
	setIf(&p.Retry, o.Retry)
	setIf(&p.Serializer, o.Serializer)
	setIf(&p.Deserialize, o.Deserialize)
	setIf(&p.UseBatchDirect, o.UseBatchDirect)
	setIf(&p.DurableDelete, o.DurableDelete)
	setIf(&p.MapPolicy, o.MapPolicy)
	if o.MapReturnType != nil {
		rt := *o.MapReturnType
		p.MapReturnType = &rt
	}
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// Timeout returns the total time budget of one attempt. The socket timeout
// caps it when it is set and shorter.
func (p Policy) Timeout(write bool) time.Duration {
	d := p.ReadTimeout
	if write {
		d = p.WriteTimeout
	}
	if p.SocketTimeout > 0 && (d == 0 || p.SocketTimeout < d) {
		d = p.SocketTimeout
	}
	return d
}

// Validate checks ranges and enumerants of every set option
func (o Options) Validate() error {
	for name, d := range map[string]*time.Duration{
		"OPT_CONNECT_TIMEOUT":       o.ConnectTimeout,
		"OPT_READ_TIMEOUT":          o.ReadTimeout,
		"OPT_WRITE_TIMEOUT":         o.WriteTimeout,
		"OPT_SOCKET_TIMEOUT":        o.SocketTimeout,
		"OPT_SLEEP_BETWEEN_RETRIES": o.SleepBetweenRetries,
	} {
		if d != nil && *d < 0 {
			return status.New(status.ErrParam, "%s must not be negative", name)
		}
	}
	if o.TTL != nil && *o.TTL < TTLDontUpdate {
		return status.New(status.ErrParam, "OPT_TTL %d is below -2", *o.TTL)
	}

	checks := []struct {
		name string
		ok   bool
	}{
		{"OPT_POLICY_KEY", o.Key == nil || keyNames.valid(*o.Key)},
		{"OPT_POLICY_EXISTS", o.Exists == nil || existsNames.valid(*o.Exists)},
		{"OPT_POLICY_GEN", o.Gen == nil || genNames.valid(o.Gen.Mode)},
		{"OPT_POLICY_COMMIT_LEVEL", o.CommitLevel == nil || commitNames.valid(*o.CommitLevel)},
		{"OPT_POLICY_REPLICA", o.Replica == nil || replicaNames.valid(*o.Replica)},
		{"OPT_POLICY_CONSISTENCY", o.Consistency == nil || consistencyNames.valid(*o.Consistency)},
		{"OPT_POLICY_RETRY", o.Retry == nil || retryNames.valid(*o.Retry)},
		{"OPT_SERIALIZER", o.Serializer == nil || *o.Serializer == value.SerializerNone || *o.Serializer == value.SerializerUser},
		{"OPT_MAP_RETURN_TYPE", o.MapReturnType == nil || o.MapReturnType.Valid()},
		{"OPT_MAP_ORDER", o.MapPolicy == nil || o.MapPolicy.Order.Valid()},
		{"OPT_MAP_WRITE_MODE", o.MapPolicy == nil || writeModeNames.valid(o.MapPolicy.WriteMode)},
	}
	for _, c := range checks {
		if !c.ok {
			return status.New(status.ErrParam, "%s has an unknown value", c.name)
		}
	}
	return nil
}

var (
	durationType   = reflect.TypeOf(time.Duration(0))
	generationType = reflect.TypeOf(Generation{})
)

// ParseOptions decodes a string-keyed option bag such as
// {"OPT_TTL": 300, "OPT_POLICY_EXISTS": "POLICY_EXISTS_CREATE"}. Unknown keys
// and malformed values fail with ERR_PARAM.
func ParseOptions(raw map[string]any) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &opts,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			millisHook,
			generationHook,
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return opts, status.Wrap(status.ErrClient, err, "options decoder")
	}
	if err := dec.Decode(raw); err != nil {
		return Options{}, status.Wrap(status.ErrParam, err, "invalid options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// millisHook reads bare numbers as milliseconds and strings as Go durations
func millisHook(from, to reflect.Type, data any) (any, error) {
	if to != durationType || from == durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(v)
	case float32:
		return time.Duration(float64(v) * float64(time.Millisecond)), nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	}
	rv := reflect.ValueOf(data)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(rv.Int()) * time.Millisecond, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(rv.Uint()) * time.Millisecond, nil
	}
	return data, nil
}

// generationHook decodes OPT_POLICY_GEN from [mode] or [mode, generation]
func generationHook(from, to reflect.Type, data any) (any, error) {
	if to != generationType || from == generationType {
		return data, nil
	}
	rv := reflect.ValueOf(data)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("OPT_POLICY_GEN must be [mode, generation], got %T", data)
	}
	if rv.Len() < 1 || rv.Len() > 2 {
		return nil, fmt.Errorf("OPT_POLICY_GEN must have 1 or 2 elements, got %d", rv.Len())
	}

	var g Generation
	mode, err := enumFrom(rv.Index(0).Interface(), genNames)
	if err != nil {
		return nil, err
	}
	g.Mode = mode

	if rv.Len() == 1 {
		if g.Mode != GenIgnore {
			return nil, fmt.Errorf("OPT_POLICY_GEN %s requires a generation value", g.Mode)
		}
		return g, nil
	}

	gen, err := nonNegative(rv.Index(1).Interface())
	if err != nil {
		return nil, fmt.Errorf("OPT_POLICY_GEN generation: %w", err)
	}
	g.Value = gen
	return g, nil
}

func enumFrom[T ~int](v any, names enumNames[T]) (T, error) {
	if s, ok := v.(string); ok {
		return names.parse([]byte(s))
	}
	n, err := nonNegative(v)
	if err != nil {
		return 0, err
	}
	if !names.valid(T(n)) {
		return 0, fmt.Errorf("unknown %svalue %d", names.prefix, n)
	}
	return T(n), nil
}

func nonNegative(v any) (uint32, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n < 0 || n > int64(^uint32(0)) {
			return 0, fmt.Errorf("%d out of range", n)
		}
		return uint32(n), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > uint64(^uint32(0)) {
			return 0, fmt.Errorf("%d out of range", n)
		}
		return uint32(n), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f < 0 || f != float64(uint32(f)) {
			return 0, fmt.Errorf("%v is not a non-negative integer", f)
		}
		return uint32(f), nil
	}
	return 0, fmt.Errorf("%T is not an integer", v)
}

// Ptr returns a pointer to v, for building Options literals
func Ptr[T any](v T) *T {
	return &v
}

// Millis converts milliseconds to a duration pointer
func Millis(ms int) *time.Duration {
	d := time.Duration(ms) * time.Millisecond
	return &d
}
