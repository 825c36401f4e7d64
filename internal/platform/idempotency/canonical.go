package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const circularMarker = `"[Circular]"`

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonNumberType    = reflect.TypeOf(json.Number(""))
)

// Hash returns the hex SHA-256 of the canonical serialisation of v.
func Hash(v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

// Canonicalize serialises v deterministically: object keys are sorted at every depth, struct fields
// use their JSON names, and reference cycles are replaced by a "[Circular]" marker instead of
// recursing forever.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	c := canonicalizer{buf: &buf, visiting: make(map[visitKey]struct{})}
	if err := c.write(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type visitKey struct {
	ptr uintptr
	typ reflect.Type
}

type canonicalizer struct {
	buf      *bytes.Buffer
	visiting map[visitKey]struct{}
}

func (c canonicalizer) write(v reflect.Value) error {
	if !v.IsValid() {
		c.buf.WriteString("null")
		return nil
	}

	if v.Type() == jsonNumberType {
		num := v.String()
		if num == "" {
			num = "0"
		}
		c.buf.WriteString(num)
		return nil
	}

	if v.Kind() != reflect.Pointer && v.Kind() != reflect.Interface && v.Type().Implements(jsonMarshalerType) {
		return c.writeMarshaler(v)
	}

	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() {
			c.buf.WriteString("null")
			return nil
		}
		if v.Type().Implements(jsonMarshalerType) {
			return c.writeMarshaler(v)
		}
		return c.enter(v, func() error { return c.write(v.Elem()) })
	case reflect.Interface:
		if v.IsNil() {
			c.buf.WriteString("null")
			return nil
		}
		return c.write(v.Elem())
	case reflect.Map:
		if v.IsNil() {
			c.buf.WriteString("null")
			return nil
		}
		return c.enter(v, func() error { return c.writeMap(v) })
	case reflect.Struct:
		return c.writeStruct(v)
	case reflect.Slice:
		if v.IsNil() {
			c.buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			c.writeString(base64.StdEncoding.EncodeToString(v.Bytes()))
			return nil
		}
		return c.enter(v, func() error { return c.writeList(v) })
	case reflect.Array:
		return c.writeList(v)
	case reflect.String:
		c.writeString(v.String())
	case reflect.Bool:
		c.buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		c.buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		c.buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		c.writeFloat(v.Float())
	default:
		return fmt.Errorf("idempotency: cannot canonicalize value of kind %s", v.Kind())
	}
	return nil
}

// enter tracks reference-typed values on the current path; revisiting one means a cycle.
func (c canonicalizer) enter(v reflect.Value, fn func() error) error {
	key := visitKey{ptr: v.Pointer(), typ: v.Type()}
	if _, seen := c.visiting[key]; seen {
		c.buf.WriteString(circularMarker)
		return nil
	}
	c.visiting[key] = struct{}{}
	defer delete(c.visiting, key)
	return fn()
}

func (c canonicalizer) writeMarshaler(v reflect.Value) error {
	marshaler, ok := v.Interface().(json.Marshaler)
	if !ok {
		return fmt.Errorf("idempotency: %s does not implement json.Marshaler", v.Type())
	}
	raw, err := marshaler.MarshalJSON()
	if err != nil {
		return fmt.Errorf("idempotency: marshal %s: %w", v.Type(), err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return fmt.Errorf("idempotency: decode %s: %w", v.Type(), err)
	}
	return c.write(reflect.ValueOf(decoded))
}

func (c canonicalizer) writeMap(v reflect.Value) error {
	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		entries = append(entries, entry{key: mapKeyString(iter.Key()), value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	c.buf.WriteByte('{')
	for i, e := range entries {
		if i > 0 {
			c.buf.WriteByte(',')
		}
		c.writeString(e.key)
		c.buf.WriteByte(':')
		if err := c.write(e.value); err != nil {
			return err
		}
	}
	c.buf.WriteByte('}')
	return nil
}

func (c canonicalizer) writeStruct(v reflect.Value) error {
	type field struct {
		name  string
		value reflect.Value
	}
	t := v.Type()
	fields := make([]field, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty, skip := jsonFieldName(sf)
		if skip {
			continue
		}
		fv := v.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		fields = append(fields, field{name: name, value: fv})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })

	c.buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			c.buf.WriteByte(',')
		}
		c.writeString(f.name)
		c.buf.WriteByte(':')
		if err := c.write(f.value); err != nil {
			return err
		}
	}
	c.buf.WriteByte('}')
	return nil
}

func (c canonicalizer) writeList(v reflect.Value) error {
	c.buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			c.buf.WriteByte(',')
		}
		if err := c.write(v.Index(i)); err != nil {
			return err
		}
	}
	c.buf.WriteByte(']')
	return nil
}

func (c canonicalizer) writeString(s string) {
	encoded, _ := json.Marshal(s)
	c.buf.Write(encoded)
}

func (c canonicalizer) writeFloat(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.buf.WriteString("null")
		return
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		c.buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		return
	}
	c.buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
}

func mapKeyString(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.Kind() == reflect.Interface && !k.IsNil() {
		return mapKeyString(k.Elem())
	}
	return fmt.Sprint(k.Interface())
}

func jsonFieldName(sf reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = sf.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" {
				omitEmpty = true
			}
		}
	}
	return name, omitEmpty, false
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
