package state

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Data is the payload attached to a session.
type Data = map[string]any

const (
	SerializerJSON    = "json"
	SerializerGob     = "gob"
	SerializerPickle  = "pickle"
	SerializerMsgpack = "msgpack"
)

// Serializer converts session payloads to and from their stored form.
//
// Payloads are not portable between serializers. Switching the serializer of
// an existing store requires a fresh store: old payloads fail to decode and
// read as "no data".
type Serializer interface {
	Name() string
	Encode(data Data) ([]byte, error)
	Decode(payload []byte) (Data, error)
}

// gobElemTypes are the element types whose common containers ([]T,
// map[string]T and one more level of either) are registered with gob, so
// ordinary nested values encode without a RegisterType call.
var gobElemTypes = []reflect.Type{
	reflect.TypeOf(false), reflect.TypeOf(""),
	reflect.TypeOf(0), reflect.TypeOf(int8(0)), reflect.TypeOf(int16(0)), reflect.TypeOf(int32(0)), reflect.TypeOf(int64(0)),
	reflect.TypeOf(uint(0)), reflect.TypeOf(uint8(0)), reflect.TypeOf(uint16(0)), reflect.TypeOf(uint32(0)), reflect.TypeOf(uint64(0)),
	reflect.TypeOf(float32(0)), reflect.TypeOf(float64(0)),
	reflect.TypeOf(complex64(0)), reflect.TypeOf(complex128(0)),
	reflect.TypeOf(time.Time{}), reflect.TypeOf(time.Duration(0)),
	reflect.TypeOf((*any)(nil)).Elem(),
}

func init() {
	RegisterType(time.Time{})
	RegisterType(time.Duration(0))

	stringType := reflect.TypeOf("")
	for _, elem := range gobElemTypes {
		slice := reflect.SliceOf(elem)
		dict := reflect.MapOf(stringType, elem)
		for _, t := range []reflect.Type{
			slice,
			dict,
			reflect.SliceOf(slice),
			reflect.SliceOf(dict),
			reflect.MapOf(stringType, slice),
			reflect.MapOf(stringType, dict),
		} {
			RegisterType(reflect.Zero(t).Interface())
		}
	}
}

// RegisterType makes a concrete type storable inside gob payloads. Custom
// structs must be registered before they are written or read.
func RegisterType(value any) {
	gob.Register(value)
}

// NewSerializer returns the serializer for name. Unknown names fall back to gob.
func NewSerializer(name string, log *slog.Logger) Serializer {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case SerializerJSON:
		return JSONSerializer{}
	case SerializerGob, SerializerPickle:
		return GobSerializer{}
	case SerializerMsgpack:
		return MsgpackSerializer{}
	}

	if log == nil {
		log = slog.Default()
	}
	log.Warn("unknown serializer, falling back to gob", slog.String("serializer", name))

	return GobSerializer{}
}

// errCyclicValue is returned for a payload that contains itself.
var errCyclicValue = errors.New("value contains a reference cycle")

// JSONSerializer stores payloads as human-readable JSON. It accepts maps with
// string keys, slices, strings, finite numbers, booleans and nil, and rejects
// everything else (structs, time.Time, []byte, pointers, named types) since
// those would come back as a different value. Numbers decode as float64.
type JSONSerializer struct{}

func (JSONSerializer) Name() string { return SerializerJSON }

func (JSONSerializer) Encode(data Data) ([]byte, error) {
	if err := walkValue(reflect.ValueOf(data), checkJSONKind, nil); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}

	return payload, nil
}

func (JSONSerializer) Decode(payload []byte) (Data, error) {
	var data Data
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("json decode: %w", err)
	}

	return data, nil
}

// GobSerializer stores payloads in Go's native binary encoding. Any type
// passed to RegisterType round-trips with its concrete Go type intact.
type GobSerializer struct{}

func (GobSerializer) Name() string { return SerializerGob }

func (GobSerializer) Encode(data Data) ([]byte, error) {
	if err := walkValue(reflect.ValueOf(data), nil, nil); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("gob encode: %w", err)
	}

	return buf.Bytes(), nil
}

func (GobSerializer) Decode(payload []byte) (Data, error) {
	var data Data
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&data); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}

	return data, nil
}

// MsgpackSerializer stores payloads as MessagePack. Integers decode as
// int64/uint64 and time.Time values survive the round trip.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Name() string { return SerializerMsgpack }

func (MsgpackSerializer) Encode(data Data) ([]byte, error) {
	if err := walkValue(reflect.ValueOf(data), nil, nil); err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	payload, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	return payload, nil
}

func (MsgpackSerializer) Decode(payload []byte) (Data, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	dec.UseLooseInterfaceDecoding(true)

	var data Data
	if err := dec.Decode(&data); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}

	return data, nil
}

type visit struct {
	typ reflect.Type
	ptr uintptr
}

// walkValue visits every value reachable from v, calling check on each one
// when check is set. A container met again on the current path is a cycle,
// which the encoders would otherwise follow until the stack overflows.
// Shared but acyclic containers are fine.
func walkValue(v reflect.Value, check func(reflect.Value) error, path map[visit]struct{}) error {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return nil
	}

	if check != nil {
		if err := check(v); err != nil {
			return err
		}
	}

	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		key := visit{typ: v.Type(), ptr: v.Pointer()}
		if _, seen := path[key]; seen {
			return errCyclicValue
		}
		if path == nil {
			path = make(map[visit]struct{})
		}
		path[key] = struct{}{}
		defer delete(path, key)
	}

	switch v.Kind() {
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if err := walkValue(iter.Value(), check, path); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := walkValue(v.Index(i), check, path); err != nil {
				return err
			}
		}
	case reflect.Pointer:
		return walkValue(v.Elem(), check, path)
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := walkValue(v.Field(i), check, path); err != nil {
				return err
			}
		}
	}

	return nil
}

// checkJSONKind accepts only values that decode back as an equal value, up to
// numbers turning into float64.
func checkJSONKind(v reflect.Value) error {
	t := v.Type()
	if t.PkgPath() != "" {
		return fmt.Errorf("unsupported type %s", t)
	}

	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return nil
	case reflect.Float32, reflect.Float64:
		if f := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("unsupported value %v", f)
		}
		return nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return fmt.Errorf("unsupported type %s", t)
		}
		return nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String || t.Key().PkgPath() != "" {
			return fmt.Errorf("unsupported map key type %s", t.Key())
		}
		return nil
	default:
		return fmt.Errorf("unsupported type %s", t)
	}
}
