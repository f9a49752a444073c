// Package identity holds the registered people the access gate recognises
// and the list operations shared by the live pipeline and the CLI.
package identity

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/andresmejia3/gatekeeper/internal/types"
)

// DefaultTolerance is the maximum descriptor distance still counted as a match.
const DefaultTolerance = 0.6

// ErrNotFound is returned when no identity carries the requested name.
var ErrNotFound = errors.New("identity not found")

// Identity is a registered face. Several identities may share a name.
type Identity struct {
	Name       string
	Descriptor types.Descriptor
}

// Store persists the ordered identity list.
// Save overwrites the whole set.
type Store interface {
	Load(ctx context.Context) ([]Identity, error)
	Save(ctx context.Context, ids []Identity) error
}

// Comparator reports, for every known descriptor, whether probe matches it.
type Comparator interface {
	Compare(known []types.Descriptor, probe types.Descriptor) []bool
}

// Euclidean matches descriptors whose Euclidean distance is within Tolerance.
type Euclidean struct {
	Tolerance float64
}

func (e Euclidean) Compare(known []types.Descriptor, probe types.Descriptor) []bool {
	tol := e.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}
	out := make([]bool, len(known))
	for i, k := range known {
		out[i] = Distance(k, probe) <= tol
	}
	return out
}

// Distance is the Euclidean distance between two descriptors.
func Distance(a, b types.Descriptor) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Descriptors returns the descriptors of ids in stored order.
func Descriptors(ids []Identity) []types.Descriptor {
	out := make([]types.Descriptor, len(ids))
	for i, id := range ids {
		out[i] = id.Descriptor
	}
	return out
}

// Match returns the first identity (by stored order) the comparator accepts.
func Match(ids []Identity, cmp Comparator, probe types.Descriptor) (Identity, bool) {
	if len(ids) == 0 {
		return Identity{}, false
	}
	for i, ok := range cmp.Compare(Descriptors(ids), probe) {
		if ok && i < len(ids) {
			return ids[i], true
		}
	}
	return Identity{}, false
}

// Clone copies the list so callers can hold a snapshot.
func Clone(ids []Identity) []Identity {
	if ids == nil {
		return nil
	}
	out := make([]Identity, len(ids))
	copy(out, ids)
	return out
}

// Append returns a new list with id added at the end; ids is left untouched.
func Append(ids []Identity, id ...Identity) []Identity {
	out := make([]Identity, 0, len(ids)+len(id))
	out = append(out, ids...)
	return append(out, id...)
}

// DeleteByName drops every identity named name and reports how many were removed.
func DeleteByName(ids []Identity, name string) ([]Identity, int) {
	out := make([]Identity, 0, len(ids))
	for _, id := range ids {
		if id.Name != name {
			out = append(out, id)
		}
	}
	return out, len(ids) - len(out)
}

// Rename relabels every identity named from.
func Rename(ids []Identity, from, to string) ([]Identity, int) {
	out := Clone(ids)
	n := 0
	for i := range out {
		if out[i].Name == from {
			out[i].Name = to
			n++
		}
	}
	return out, n
}

// NameCount is a name with its number of registrations.
type NameCount struct {
	Name  string
	Count int
}

// Counts groups identities by name, preserving first-seen order.
func Counts(ids []Identity) []NameCount {
	idx := make(map[string]int)
	var out []NameCount
	for _, id := range ids {
		if i, ok := idx[id.Name]; ok {
			out[i].Count++
			continue
		}
		idx[id.Name] = len(out)
		out = append(out, NameCount{Name: id.Name, Count: 1})
	}
	return out
}

// Register appends one identity per descriptor under name and persists the list.
func Register(ctx context.Context, s Store, name string, descs ...types.Descriptor) ([]Identity, error) {
	if name == "" {
		return nil, types.ErrEmptyName
	}
	ids, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	added := make([]Identity, len(descs))
	for i, d := range descs {
		added[i] = Identity{Name: name, Descriptor: d}
	}
	ids = Append(ids, added...)
	if err := s.Save(ctx, ids); err != nil {
		return nil, fmt.Errorf("save identities: %w", err)
	}
	return ids, nil
}

// Remove deletes every registration of name from the store.
func Remove(ctx context.Context, s Store, name string) (int, error) {
	ids, err := s.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load identities: %w", err)
	}
	remaining, n := DeleteByName(ids, name)
	if n == 0 {
		return 0, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err := s.Save(ctx, remaining); err != nil {
		return 0, fmt.Errorf("save identities: %w", err)
	}
	return n, nil
}
