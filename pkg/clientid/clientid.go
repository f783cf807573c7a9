// Package clientid persists the device's crash client identifier.
package clientid

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Length is the number of characters in a client identifier.
const Length = 32

// Store reads and lazily creates the identifier file at Path.
type Store struct {
	Path string
}

// New returns a Store backed by path.
func New(path string) *Store {
	return &Store{Path: path}
}

// Get returns the stored identifier, generating and persisting a new one
// when the file is missing or holds a value of the wrong shape.
func (s *Store) Get() (string, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read client id: %w", err)
	}

	if id := strings.TrimSpace(string(data)); Valid(id) {
		return id, nil
	}

	id := Generate()

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return "", fmt.Errorf("create client id directory: %w", err)
	}

	if err := os.WriteFile(s.Path, []byte(id), 0o644); err != nil {
		return "", fmt.Errorf("write client id: %w", err)
	}

	return id, nil
}

// Generate returns a fresh random identifier.
func Generate() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id has the shape of a client identifier.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}

	for _, c := range id {
		if !isHex(c) {
			return false
		}
	}

	return true
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
