// Package identity creates and persists the identity a peer tags its
// commands with.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// MaxValueLen caps ids and display names accepted from the network.
const MaxValueLen = 40

var palette = []string{"Azure", "Coral", "Jade", "Amber", "Onyx", "Indigo", "Sienna", "Cobalt"}

// Identity names one peer for its whole lifetime.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// New generates a fresh identity with a random display name.
func New() Identity {
	return Identity{ID: uuid.NewString(), DisplayName: RandomName()}
}

// RandomName returns a name such as "Jade-417".
func RandomName() string {
	return fmt.Sprintf("%s-%d", palette[rand.IntN(len(palette))], 100+rand.IntN(900))
}

// Sanitize trims v and caps it at MaxValueLen runes, returning fallback when
// nothing is left.
func Sanitize(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	if r := []rune(v); len(r) > MaxValueLen {
		return string(r[:MaxValueLen])
	}
	return v
}

// LoadOrCreate reads the identity stored at path. If the file does not exist
// a new identity is generated and written there.
func LoadOrCreate(path string) (Identity, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var id Identity
		if err := json.Unmarshal(data, &id); err != nil {
			return Identity{}, fmt.Errorf("parse identity %s: %w", path, err)
		}
		if id.ID == "" {
			return Identity{}, fmt.Errorf("identity %s has no id", path)
		}
		id.DisplayName = Sanitize(id.DisplayName, RandomName())
		return id, nil
	case errors.Is(err, os.ErrNotExist):
		id := New()
		if err := Save(path, id); err != nil {
			return Identity{}, err
		}
		return id, nil
	default:
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}
}

// Save writes id to path as JSON, creating parent directories.
func Save(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
