package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/steward/internal/crypto"
)

// LoadedPolicy is a validated policy together with the digest of the exact
// bytes it was parsed from. The digest is what audit events cite.
type LoadedPolicy struct {
	Policy Policy
	Hash   string
	Bytes  []byte
}

func LoadPolicy(path string) (LoadedPolicy, error) {
	// #nosec G304 -- path comes from operator-configured policy path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedPolicy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes strictly: unknown keys, an empty document and
// trailing documents are all rejected as ErrInvalidPolicy.
func ParsePolicy(data []byte) (LoadedPolicy, error) {
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return LoadedPolicy{}, fmt.Errorf("%w: empty document", ErrInvalidPolicy)
		}
		return LoadedPolicy{}, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return LoadedPolicy{}, fmt.Errorf("%w: expected a single document", ErrInvalidPolicy)
	}
	if err := p.Validate(); err != nil {
		return LoadedPolicy{}, err
	}

	return LoadedPolicy{
		Policy: p,
		Hash:   crypto.DigestWithPrefix(data),
		Bytes:  data,
	}, nil
}
