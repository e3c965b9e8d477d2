package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ClinicalSnapshot is an immutable set of named clinical measurements
// captured when a clinician submits or loads patient data. Boolean
// factors (smoking, family history flags) are stored as 0/1. A snapshot
// is never mutated after capture; every analysis run captures a fresh one.
type ClinicalSnapshot struct {
	values map[string]float64
}

// NewClinicalSnapshot captures a snapshot from the given values.
// The input map is copied so later mutation by the caller cannot leak in.
func NewClinicalSnapshot(values map[string]float64) ClinicalSnapshot {
	copied := make(map[string]float64, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return ClinicalSnapshot{values: copied}
}

// Value returns the named measurement and whether it was provided.
func (s ClinicalSnapshot) Value(name string) (float64, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether the named measurement was provided.
func (s ClinicalSnapshot) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// ValueOr returns the named measurement, or the given neutral default
// when the field was not provided.
func (s ClinicalSnapshot) ValueOr(name string, def float64) float64 {
	if v, ok := s.values[name]; ok {
		return v
	}
	return def
}

// Fields returns the provided field names in sorted order.
func (s ClinicalSnapshot) Fields() []string {
	fields := make([]string, 0, len(s.values))
	for k := range s.values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Values returns a copy of the measurements, for callers that need the
// full map (wire encoding, diagnostics). The copy keeps the snapshot
// immutable.
func (s ClinicalSnapshot) Values() map[string]float64 {
	copied := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		copied[k] = v
	}
	return copied
}

// Len returns the number of provided fields.
func (s ClinicalSnapshot) Len() int {
	return len(s.values)
}

// CanonicalString serializes the snapshot with a fixed key ordering and a
// fixed numeric format, so the same logical snapshot always produces the
// same string regardless of insertion order or runtime.
func (s ClinicalSnapshot) CanonicalString() string {
	fields := s.Fields()
	parts := make([]string, 0, len(fields))
	for _, name := range fields {
		parts = append(parts, name+"="+strconv.FormatFloat(s.values[name], 'f', -1, 64))
	}
	return strings.Join(parts, ";")
}

// Hash returns a stable FNV-1a hash of the canonical serialization.
// The algorithm uses only basic integer arithmetic so reimplementations
// in other languages produce the same value for the same snapshot.
func (s ClinicalSnapshot) Hash() uint32 {
	const (
		offsetBasis uint32 = 2166136261
		prime       uint32 = 16777619
	)
	h := offsetBasis
	for _, b := range []byte(s.CanonicalString()) {
		h ^= uint32(b)
		h *= prime
	}
	return h
}

// HashKey returns the hash formatted as a fixed-width hex string, used as
// a cache key for prediction responses and memoized analyses.
func (s ClinicalSnapshot) HashKey() string {
	return fmt.Sprintf("%08x", s.Hash())
}

// MarshalJSON serializes the snapshot as a flat JSON object, the shape the
// prediction service expects.
func (s ClinicalSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

// UnmarshalJSON captures a snapshot from a flat JSON object.
func (s *ClinicalSnapshot) UnmarshalJSON(data []byte) error {
	var values map[string]float64
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("unmarshaling clinical snapshot: %w", err)
	}
	*s = NewClinicalSnapshot(values)
	return nil
}
