// Package repoconfig implements Muteacle's versioned, JSON-serialised
// RepositoryConfig (spec component C): resolution, salt length and an
// opaque meta map, together with a scheduled activation instant and the
// merge rules that govern how configuration changes are staged to take
// effect at the next interval boundary common to the old and new bucket
// sizes.
package repoconfig

import (
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/mounaiban/muteacle/internal/muteacle/bucket"
	"github.com/mounaiban/muteacle/internal/muteacle/configurable"
	"github.com/mounaiban/muteacle/internal/muteacle/muterrors"
)

// RecognisedKeys are the fixed tuple of configuration keys a
// RepositoryConfig understands. Any other key present in submitted or
// stored JSON is silently dropped.
var RecognisedKeys = []string{"resolution", "salt_length", "meta"}

// Defaults mirror the reference implementation's repository defaults.
var Defaults = map[string]any{
	"resolution":  5,
	"salt_length": 32,
	"meta":        map[string]any{},
}

// integrityHashMinLength is the JSON payload length, in bytes, at or
// above which a config (or hasher) record is given a SHA-512 integrity
// tag. Below this length the tag is left empty.
const integrityHashMinLength = 128

// hashValidate validates the fixed recognised fields. It is kept
// separate from Record so Record can stay a thin wrapper over
// configurable.Configurable, per the shared Configurable-object
// contract described in the spec.
type hashValidate struct {
	Resolution int `validate:"required,admissibleresolution"`
	SaltLength int `validate:"gte=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("admissibleresolution", func(fl validator.FieldLevel) bool {
		r := fl.Field().Int()
		return r > 0 && 86400%r == 0
	})
	return v
}

// Record is a RepositoryConfig: the configurable {resolution, salt_length,
// meta} tuple plus the activation instant at which it takes effect.
type Record struct {
	cfg               configurable.Configurable
	ActivationInstant time.Time
}

// New returns a zero-value Record; call Set to fill it.
func New() Record {
	return Record{cfg: configurable.New(RecognisedKeys, Defaults)}
}

// Set applies values using the Configurable-object contract: first call
// fills every recognised key (substituting defaults for missing keys),
// subsequent calls diff-merge, and config == nil resets to defaults.
// Returns the number of keys changed.
func (r *Record) Set(values map[string]any) int {
	return r.cfg.Set(values)
}

// Resolution returns the configured bucket resolution in seconds.
func (r Record) Resolution() bucket.Resolution {
	return bucket.Resolution(intOf(r.cfg.Get()["resolution"]))
}

// SaltLength returns the configured default salt length in bytes.
func (r Record) SaltLength() int {
	return intOf(r.cfg.Get()["salt_length"])
}

// Meta returns the opaque caller metadata map, preserved verbatim.
func (r Record) Meta() map[string]any {
	if m, ok := r.cfg.Get()["meta"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// IsZero reports whether the record has never been configured.
func (r Record) IsZero() bool {
	return r.cfg.Get() == nil
}

// Equal reports whether two records have identical effective
// configuration (activation instant is not part of equality, matching
// the merge rules' "requested config equals C_active/C_pending"
// comparisons, which compare configuration only).
func (r Record) Equal(other Record) bool {
	a, b := r.cfg.Get(), other.cfg.Get()
	if len(a) != len(b) {
		return false
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// Validate checks the record's fixed recognised fields for correctness,
// returning muterrors.ErrInvalidResolution or muterrors.ErrInvalidSaltLength
// wrapped with the field detail.
func (r Record) Validate() error {
	hv := hashValidate{Resolution: int(r.Resolution()), SaltLength: r.SaltLength()}
	if err := validate.Struct(hv); err != nil {
		for _, fe := range err.(validator.ValidationErrors) {
			switch fe.Field() {
			case "Resolution":
				return fmt.Errorf("%w: %d", muterrors.ErrInvalidResolution, hv.Resolution)
			case "SaltLength":
				return fmt.Errorf("%w: %d", muterrors.ErrInvalidSaltLength, hv.SaltLength)
			}
		}
		return err
	}
	return nil
}

// ConfigJSON returns the JSON encoding of the record's recognised-key
// configuration only (activation instant is persisted separately by the
// store).
func (r Record) ConfigJSON() ([]byte, error) {
	return json.Marshal(r.cfg.Get())
}

// DecodeConfigJSON parses configJSON, silently dropping unrecognised
// keys, and returns a Record with ActivationInstant set to at.
func DecodeConfigJSON(configJSON []byte, at time.Time) (Record, error) {
	var raw map[string]any
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &raw); err != nil {
			return Record{}, fmt.Errorf("repoconfig: decode: %w", err)
		}
	}
	filtered := make(map[string]any, len(RecognisedKeys))
	for _, k := range RecognisedKeys {
		if v, ok := raw[k]; ok {
			filtered[k] = v
		}
	}
	rec := New()
	rec.Set(filtered)
	rec.ActivationInstant = at
	return rec, nil
}

// Hash computes the integrity tag for a config JSON payload: lowercase
// hex SHA-512 when the payload is at least integrityHashMinLength bytes,
// otherwise the empty string.
func Hash(configJSON []byte) string {
	if len(configJSON) < integrityHashMinLength {
		return ""
	}
	sum := sha512.Sum512(configJSON)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether storedHash matches the recomputed hash of
// configJSON, per Hash's gating rule. A record stored below the gating
// threshold (storedHash == "") always verifies.
func VerifyHash(configJSON []byte, storedHash string) bool {
	return Hash(configJSON) == storedHash
}

func intOf(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Merge applies the configuration-change protocol (spec §4.C) given the
// active config (if any), the pending config (if any) and the requested
// new config, at the current instant now. It returns the Record to
// persist (with ActivationInstant populated) and whether a write is
// actually required (false for a no-op match against the pending
// config).
//
//   - No config ever stored: activation = interval_start(now, R_new),
//     i.e. backdated to the start of the current interval.
//   - Requested equals pending: no-op, return pending's instant.
//   - Requested equals active: delete pending (if any), return active's
//     instant.
//   - Otherwise: delete pending, schedule at the next instant that is a
//     boundary under both the active and requested resolutions.
func Merge(active *Record, pending *Record, requested Record, now time.Time) (toWrite Record, deletePending bool, writeNeeded bool) {
	if active == nil {
		n := bucket.IntervalNumber(now, requested.Resolution())
		requested.ActivationInstant = bucket.IntervalStart(now, requested.Resolution(), n)
		return requested, false, true
	}

	if pending != nil && requested.Equal(*pending) {
		return *pending, false, false
	}

	if requested.Equal(*active) {
		return *active, pending != nil, false
	}

	requested.ActivationInstant = bucket.NextCommonStart(now, active.Resolution(), requested.Resolution())
	return requested, true, true
}
