package common

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Model identity
// ---------------------------------------------------------------------------

// ModelIdentity names the model that produced an embedding. Embeddings are
// only comparable when their identities are equal.
type ModelIdentity struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// String renders "name@version", or just the name when no version is known.
func (m ModelIdentity) String() string {
	if m.Version == "" {
		return m.Name
	}
	return m.Name + "@" + m.Version
}

// IsZero reports whether the identity is unset.
func (m ModelIdentity) IsZero() bool { return m.Name == "" && m.Version == "" }

// Equal compares name and version, ignoring case of the name.
func (m ModelIdentity) Equal(o ModelIdentity) bool {
	return strings.EqualFold(m.Name, o.Name) && m.Version == o.Version
}

// ParseModelIdentity is the inverse of String.
func ParseModelIdentity(s string) (ModelIdentity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ModelIdentity{}, fmt.Errorf("empty model identity")
	}
	name, version, _ := strings.Cut(s, "@")
	return ModelIdentity{Name: name, Version: version}, nil
}
