// Package indexes models MongoDB secondary index descriptors as reported by
// listIndexes, plus the version-aware option filtering applied before any
// index definition is sent back to a server.
package indexes

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Descriptor is one index of one collection. Descriptors are read fresh at
// the start of each collection pass and never cached across passes.
type Descriptor struct {
	// Name is the index name, unique within its collection.
	Name string

	// Keys is the ordered key specification ({field: direction}).
	Keys bson.D

	// Options is the option bag: unique, sparse, expireAfterSeconds,
	// partialFilterExpression, collation, hidden, weights, and friends.
	// Never includes name, key, v, or ns.
	Options bson.M

	// Building is true while the server is still building this index
	// (listIndexes reported a buildUUID for it).
	Building bool

	// SizeBytes is the on-disk index size from collStats.indexSizes,
	// zero when unknown.
	SizeBytes int64

	// Raw is the full descriptor document as returned by the server,
	// kept for backup snapshots.
	Raw bson.D
}

// Fields of a listIndexes document that are metadata, not index options.
const (
	fieldKey       = "key"
	fieldName      = "name"
	fieldVersion   = "v"
	fieldNamespace = "ns"
	fieldBuildUUID = "buildUUID"
)

// Parse converts one listIndexes document into a Descriptor.
// The document must be decoded as bson.D so key order survives.
func Parse(doc bson.D) (Descriptor, error) {
	d := Descriptor{Raw: doc}

	for _, e := range doc {
		switch e.Key {
		case fieldName:
			name, ok := e.Value.(string)
			if !ok {
				return Descriptor{}, fmt.Errorf("index name is not a string: %v", e.Value)
			}
			d.Name = name
		case fieldKey:
			keys, ok := e.Value.(bson.D)
			if !ok {
				return Descriptor{}, fmt.Errorf("index key is not a document: %v", e.Value)
			}
			d.Keys = keys
		case fieldBuildUUID:
			d.Building = true
		case fieldVersion, fieldNamespace:
			// metadata, not options
		default:
			if d.Options == nil {
				d.Options = bson.M{}
			}
			d.Options[e.Key] = e.Value
		}
	}

	if d.Name == "" {
		return Descriptor{}, fmt.Errorf("index descriptor has no name")
	}
	if len(d.Keys) == 0 {
		return Descriptor{}, fmt.Errorf("index %q has no key specification", d.Name)
	}
	return d, nil
}

// IsIdentity reports whether this is the automatic _id index.
func (d Descriptor) IsIdentity() bool {
	return d.Name == "_id_"
}

// IsUnique reports whether the unique option is set.
func (d Descriptor) IsUnique() bool {
	u, _ := d.Options["unique"].(bool)
	return u
}

// HasSuffix reports whether the index name carries the given suffix.
func (d Descriptor) HasSuffix(suffix string) bool {
	return suffix != "" && strings.HasSuffix(d.Name, suffix)
}

// KeysEqual compares two key specifications field by field, in order.
// Directions are compared numerically because the server may report the
// same direction as int32, int64, or double.
func KeysEqual(a, b bson.D) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key {
			return false
		}
		if !valuesEqual(a[i].Value, b[i].Value) {
			return false
		}
	}
	return true
}

// OptionsEqual compares two option bags. Both directions are checked so an
// option present on only one side counts as a mismatch. The name key is
// ignored; it is compared separately by the caller.
func OptionsEqual(a, b bson.M) bool {
	for k, av := range a {
		if k == fieldName {
			continue
		}
		bv, ok := b[k]
		if !ok || !valuesEqual(av, bv) {
			return false
		}
	}
	for k := range b {
		if k == fieldName {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

// valuesEqual compares two BSON values, treating all numeric types as one.
func valuesEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case bson.D:
		bv, ok := b.(bson.D)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Key != bv[i].Key || !valuesEqual(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	case bson.M:
		bv, ok := b.(bson.M)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			ov, present := bv[k]
			if !present || !valuesEqual(v, ov) {
				return false
			}
		}
		return true
	case bson.A:
		bv, ok := b.(bson.A)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
