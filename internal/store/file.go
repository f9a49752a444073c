package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/gatekeeper/internal/identity"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultPath is where the file backend keeps encodings when no DSN is given.
var DefaultPath = filepath.Join("encodings", "face_encodings.msgpack")

// document is the on-disk layout: two index-aligned lists.
type document struct {
	Encodings [][]float32 `msgpack:"encodings"`
	Names     []string    `msgpack:"names"`
}

// File stores identities in a single msgpack document.
type File struct {
	path string
}

// NewFile returns a file backend at path (DefaultPath when empty).
func NewFile(path string) *File {
	if path == "" {
		path = DefaultPath
	}
	return &File{path: path}
}

// Path is the document location.
func (f *File) Path() string { return f.path }

// Load reads the document. A missing file is an empty store.
func (f *File) Load(ctx context.Context) ([]identity.Identity, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc document
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	if len(doc.Encodings) != len(doc.Names) {
		return nil, fmt.Errorf("decode %s: %d encodings but %d names", f.path, len(doc.Encodings), len(doc.Names))
	}

	out := make([]identity.Identity, len(doc.Names))
	for i, name := range doc.Names {
		desc, err := toDescriptor(doc.Encodings[i])
		if err != nil {
			return nil, fmt.Errorf("identity %q: %w", name, err)
		}
		out[i] = identity.Identity{Name: name, Descriptor: desc}
	}
	return out, nil
}

// Save overwrites the document. The write goes to a temp file that is renamed
// into place, so readers never see a partial document.
func (f *File) Save(ctx context.Context, ids []identity.Identity) error {
	doc := document{
		Encodings: make([][]float32, len(ids)),
		Names:     make([]string, len(ids)),
	}
	for i, id := range ids {
		doc.Encodings[i] = append([]float32(nil), id.Descriptor[:]...)
		doc.Names[i] = id.Name
	}
	data, err := msgpack.Marshal(&doc)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".encodings-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// Close is a no-op; it satisfies Backend.
func (f *File) Close(ctx context.Context) error { return nil }
