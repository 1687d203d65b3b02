package errors

import "errors"

// Domain sentinels. These are compared with errors.Is at decision points in
// the ingestion pipeline; everything else is treated as a hard failure.
var (
	// ErrNotConnected means no credential row exists for the tenant.
	ErrNotConnected = errors.New("tenant not connected")

	// ErrMissingRefreshToken means the access token is stale and no
	// refresh token is stored to renew it.
	ErrMissingRefreshToken = errors.New("missing refresh token")

	// ErrCursorExpired means the provider rejected the sync cursor as
	// stale. Not a failure: the caller falls back to a full listing.
	ErrCursorExpired = errors.New("sync cursor expired")

	// ErrDuplicateCase means a case with the same (tenant, external_ref)
	// already exists. Not a failure: the event was already ingested.
	ErrDuplicateCase = errors.New("duplicate case")

	// ErrUnresolvedTenant means a relayed email's recipient did not match
	// the org_<uuid> addressing pattern.
	ErrUnresolvedTenant = errors.New("unresolved tenant")

	// ErrInvalidSignature means a relay webhook carried a bad HMAC
	// signature.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrInvalidSecret means a sheet webhook carried an unknown secret.
	ErrInvalidSecret = errors.New("invalid webhook secret")

	// ErrRuleNotMatched means a sheet row was filtered out by the
	// tenant's creation rule. Not a failure.
	ErrRuleNotMatched = errors.New("creation rule not matched")
)

// Is and As re-export their stdlib counterparts so callers comparing
// sentinels need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
