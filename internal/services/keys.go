package services

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// CyclicHashSentinel is returned when a parameter object references itself.
// A fixed sentinel keeps key building total instead of panicking.
const CyclicHashSentinel = "cyclic"

const paramHashLen = 16

// BuildKey assembles a cache key as prefix:raw[:timestamp][:suffix].
// Empty parts are skipped so callers can omit what they don't need.
func BuildKey(prefix, raw string, parts ...string) string {
	segments := []string{prefix, raw}
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return strings.Join(segments, ":")
}

// HashParams produces a deterministic short hash of a parameter object.
// Maps are rendered with sorted keys at every depth, so two semantically
// identical objects with different insertion order hash identically.
func HashParams(params interface{}) string {
	var sb strings.Builder
	seen := make(map[uintptr]bool)
	if cyclic := writeCanonical(&sb, reflect.ValueOf(params), seen); cyclic {
		return CyclicHashSentinel
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:paramHashLen]
}

// writeCanonical renders a value into sb in a canonical order. Returns true
// if a reference cycle was detected anywhere in the object graph.
func writeCanonical(sb *strings.Builder, v reflect.Value, seen map[uintptr]bool) bool {
	if !v.IsValid() {
		sb.WriteString("null")
		return false
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			sb.WriteString("null")
			return false
		}
		if v.Kind() == reflect.Ptr {
			ptr := v.Pointer()
			if seen[ptr] {
				return true
			}
			seen[ptr] = true
			defer delete(seen, ptr)
		}
		return writeCanonical(sb, v.Elem(), seen)

	case reflect.Map:
		if v.IsNil() {
			sb.WriteString("null")
			return false
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		defer delete(seen, ptr)

		keys := make([]string, 0, v.Len())
		byKey := make(map[string]reflect.Value, v.Len())
		for _, k := range v.MapKeys() {
			ks := fmt.Sprintf("%v", k.Interface())
			keys = append(keys, ks)
			byKey[ks] = v.MapIndex(k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(k)
			sb.WriteByte(':')
			if writeCanonical(sb, byKey[k], seen) {
				return true
			}
		}
		sb.WriteByte('}')
		return false

	case reflect.Slice:
		if v.IsNil() {
			sb.WriteString("null")
			return false
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return true
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return writeSequence(sb, v, seen)

	case reflect.Array:
		return writeSequence(sb, v, seen)

	case reflect.Struct:
		t := v.Type()
		fields := make([]string, 0, t.NumField())
		byName := make(map[string]reflect.Value, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			fields = append(fields, f.Name)
			byName[f.Name] = v.Field(i)
		}
		sort.Strings(fields)

		sb.WriteByte('{')
		for i, name := range fields {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(name)
			sb.WriteByte(':')
			if writeCanonical(sb, byName[name], seen) {
				return true
			}
		}
		sb.WriteByte('}')
		return false

	default:
		fmt.Fprintf(sb, "%v", v.Interface())
		return false
	}
}

func writeSequence(sb *strings.Builder, v reflect.Value, seen map[uintptr]bool) bool {
	sb.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			sb.WriteByte(',')
		}
		if writeCanonical(sb, v.Index(i), seen) {
			return true
		}
	}
	sb.WriteByte(']')
	return false
}
