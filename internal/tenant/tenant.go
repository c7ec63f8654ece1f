// Package tenant implements C1: parsing, validation, and propagation of the
// tenant identifier that scopes every other component. There is no ambient
// tenant context (spec §5 "Multi-tenancy") — an ID is threaded explicitly as
// the first argument of every public operation it touches.
package tenant

import (
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sinew/internal/config"
	"sinew/internal/sinewerr"
)

// ID is a validated 128-bit tenant identifier. The zero value is never valid;
// callers obtain an ID through Validate, Effective, or New.
type ID struct {
	u uuid.UUID
}

// String renders the canonical (dashed, lowercase) string form.
func (t ID) String() string { return t.u.String() }

// Bytes renders the binary (16-byte) form.
func (t ID) Bytes() []byte { b := t.u; return b[:] }

// IsZero reports whether t is the unset zero value.
func (t ID) IsZero() bool { return t.u == uuid.Nil }

// Validate accepts a 128-bit identifier in either binary ([16]byte/[]byte)
// or canonical-string form and returns a validated ID, or InvalidTenant.
func Validate(value any) (ID, error) {
	switch v := value.(type) {
	case ID:
		if v.IsZero() {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is zero-valued", nil)
		}
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is empty", nil)
		}
		u, err := uuid.Parse(s)
		if err != nil {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is not a valid UUID: "+s, err)
		}
		if u == uuid.Nil {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is the nil UUID", nil)
		}
		return ID{u: u}, nil
	case []byte:
		if len(v) != 16 {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id bytes must be length 16", nil)
		}
		u, err := uuid.FromBytes(v)
		if err != nil {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "malformed tenant id bytes", err)
		}
		if u == uuid.Nil {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is the nil UUID", nil)
		}
		return ID{u: u}, nil
	case [16]byte:
		return Validate(uuid.UUID(v))
	case uuid.UUID:
		if v == uuid.Nil {
			return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is the nil UUID", nil)
		}
		return ID{u: v}, nil
	case nil:
		return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "tenant id is nil", nil)
	default:
		return ID{}, sinewerr.New(sinewerr.KindInvalidTenant, "unsupported tenant id representation", nil)
	}
}

// New generates a fresh random tenant id (used by out-of-band tenant
// provisioning, not by request handling).
func New() ID { return ID{u: uuid.New()} }

// Effective resolves the tenant id for a request: the provided value if
// present and valid, otherwise — outside production only — the configured
// development tenant, with the fallback logged. In production, an absent
// tenant id is TenantRequired.
func Effective(optional string, cfg config.Config, log *zerolog.Logger) (ID, error) {
	if strings.TrimSpace(optional) != "" {
		return Validate(optional)
	}
	if cfg.Env.IsProduction() {
		return ID{}, sinewerr.New(sinewerr.KindTenantRequired, "tenant id required in production", nil)
	}
	dev := strings.TrimSpace(cfg.Agent.DevTenantUUID)
	if dev == "" {
		return ID{}, sinewerr.New(sinewerr.KindTenantRequired, "no tenant id supplied and DEV_TENANT_UUID unset", nil)
	}
	id, err := Validate(dev)
	if err != nil {
		return ID{}, err
	}
	if log != nil {
		log.Warn().Str("tenant_id", id.String()).Msg("tenant: falling back to DEV_TENANT_UUID (non-production only)")
	}
	return id, nil
}

// LogFields returns the structured fields every operation logs alongside a
// tenant id (spec §4.1: "logs it in structured form").
func LogFields(e *zerolog.Event, id ID) *zerolog.Event {
	return e.Str("tenant_id", id.String())
}
