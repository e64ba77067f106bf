// Package hasher implements Muteacle's polymorphic one-way hashing
// capability (spec component B): a closed, tagged variant over a small
// enumeration of hash classes, each carrying its own salted, parameterised
// digest function. The system this package generalises used class
// inheritance for this; here the enumeration is a plain registry mapping
// class-name strings to variant constructors, per the spec's redesign
// notes.
package hasher

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"hash"
	"reflect"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/scrypt"

	"github.com/mounaiban/muteacle/internal/muteacle/configurable"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
)

// Class identifies a hasher variant by name. Class names are the wire
// format recorded alongside every HasherRecord.
type Class string

const (
	ClassScrypt Class = "scrypt"
	ClassPBKDF2 Class = "pbkdf2"
)

// variantSpec describes the recognised keys and defaults for one hasher
// class, and how to compute its digest given salt, effective parameters
// and data.
type variantSpec struct {
	keys     []string
	defaults map[string]any
	digest   func(salt []byte, params map[string]any, data []byte) ([]byte, error)
}

var registry = map[Class]variantSpec{
	ClassScrypt: {
		keys: []string{"n", "r", "p", "keylen"},
		defaults: map[string]any{
			"n": 1024, "r": 16, "p": 64, "keylen": 32,
		},
		digest: scryptDigest,
	},
	ClassPBKDF2: {
		keys: []string{"hash_algorithm", "i", "keylen"},
		defaults: map[string]any{
			"hash_algorithm": "sha256", "i": 400000, "keylen": 32,
		},
		digest: pbkdf2Digest,
	},
}

// Supported reports whether class is a registered hasher variant.
func Supported(class Class) bool {
	_, ok := registry[class]
	return ok
}

// Hasher is a named, parameterised, salted one-way function instance. Two
// Hashers are Equal iff they share class, effective parameters and salt.
type Hasher struct {
	class Class
	cfg   configurable.Configurable
	salt  []byte
}

// New constructs a Hasher of the given class with a freshly supplied
// salt, applying params over the class's defaults (first-configuration
// semantics: missing keys take their default value).
func New(class Class, salt []byte, params map[string]any) (*Hasher, error) {
	spec, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("hasher: %w: %s", muterrors.ErrUnsupportedHasherClass, class)
	}
	cfg := configurable.New(spec.keys, spec.defaults)
	cfg.Set(normalizeParams(params))
	return &Hasher{class: class, cfg: cfg, salt: append([]byte(nil), salt...)}, nil
}

// Rehydrate reconstructs a Hasher from its persisted class, parameter
// JSON and salt, as produced by a prior call to ParametersJSON/Salt.
func Rehydrate(class Class, parametersJSON []byte, salt []byte) (*Hasher, error) {
	spec, ok := registry[class]
	if !ok {
		return nil, fmt.Errorf("hasher: %w: %s", muterrors.ErrUnsupportedHasherClass, class)
	}
	var raw map[string]any
	if len(parametersJSON) > 0 {
		if err := json.Unmarshal(parametersJSON, &raw); err != nil {
			return nil, fmt.Errorf("hasher: decode parameters: %w", err)
		}
	}
	cfg := configurable.New(spec.keys, spec.defaults)
	cfg.Set(normalizeParams(raw))
	return &Hasher{class: class, cfg: cfg, salt: append([]byte(nil), salt...)}, nil
}

// NewSalt returns n cryptographically random bytes, suitable for use as a
// fresh Hasher salt. n is typically the active RepositoryConfig's
// SaltLength.
func NewSalt(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("hasher: negative salt length %d", n)
	}
	salt := make([]byte, n)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("hasher: generate salt: %w", err)
	}
	return salt, nil
}

// Class returns the hasher's class name.
func (h *Hasher) Class() Class { return h.class }

// Salt returns the hasher's salt bytes. Callers must not mutate the
// returned slice.
func (h *Hasher) Salt() []byte { return h.salt }

// Parameters returns the hasher's effective configuration.
func (h *Hasher) Parameters() map[string]any { return h.cfg.Get() }

// ParametersJSON returns the JSON encoding of the hasher's effective
// configuration, for persistence.
func (h *Hasher) ParametersJSON() ([]byte, error) {
	return json.Marshal(h.cfg.Get())
}

// Reconfigure applies params over the hasher's current configuration
// using reconfiguration (diff-merge) semantics, returning the number of
// keys actually changed. It does not regenerate the salt; callers that
// need an independent hasher after a parameter change should construct
// one with New and a fresh salt, per the Repository's NewHasher contract.
func (h *Hasher) Reconfigure(params map[string]any) int {
	return h.cfg.Set(normalizeParams(params))
}

// Equal reports whether two hashers have identical class, effective
// parameters and salt.
func (h *Hasher) Equal(other *Hasher) bool {
	if other == nil {
		return false
	}
	if h.class != other.class {
		return false
	}
	if !reflect.DeepEqual(h.salt, other.salt) {
		return false
	}
	return reflect.DeepEqual(h.cfg.Get(), other.cfg.Get())
}

// Digest computes the one-way digest of data under this hasher's class,
// parameters and salt.
func (h *Hasher) Digest(data []byte) ([]byte, error) {
	spec, ok := registry[h.class]
	if !ok {
		return nil, fmt.Errorf("hasher: %w: %s", muterrors.ErrUnsupportedHasherClass, h.class)
	}
	return spec.digest(h.salt, h.cfg.Get(), data)
}

// normalizeParams round-trips arbitrary caller-supplied parameter values
// through JSON and turns whole-number results back into int, so that, e.g.,
// a programmatically supplied int, a JSON-decoded float64 and the int-typed
// class defaults for the same logical value compare equal.
func normalizeParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	for k, v := range out {
		if f, ok := v.(float64); ok && float64(int(f)) == f {
			out[k] = int(f)
		}
	}
	return out
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

func scryptDigest(salt []byte, params map[string]any, data []byte) ([]byte, error) {
	n := intParam(params, "n")
	r := intParam(params, "r")
	p := intParam(params, "p")
	keylen := intParam(params, "keylen")
	return scrypt.Key(data, salt, n, r, p, keylen)
}

func pbkdf2Digest(salt []byte, params map[string]any, data []byte) ([]byte, error) {
	keylen := intParam(params, "keylen")
	i := intParam(params, "i")
	algName, _ := params["hash_algorithm"].(string)
	newHash, err := hashFunc(algName)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key(data, salt, i, keylen, newHash), nil
}

func hashFunc(name string) (func() hash.Hash, error) {
	switch name {
	case "sha256", "":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("hasher: unsupported pbkdf2 hash_algorithm %q", name)
	}
}
