package cache

import (
	"strconv"
	"time"
)

// ExpiresAtKey is the object metadata field carrying the absolute expiration
// time as decimal Unix seconds.
const ExpiresAtKey = "expires_at"

// Bounds of a representable expiration: years 0001 through 9999 UTC.
var (
	minExpiration = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).Unix()
	maxExpiration = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC).Unix()
)

// ExpirationKind tags the outcome of decoding expiration metadata.
type ExpirationKind int

const (
	ExpirationAbsent  ExpirationKind = iota // no metadata: never expires
	ExpirationAt                            // valid absolute time in Expiration.At
	ExpirationInvalid                       // present but unusable: the object is corrupt
)

func (k ExpirationKind) String() string {
	switch k {
	case ExpirationAbsent:
		return "absent"
	case ExpirationAt:
		return "at"
	case ExpirationInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Expiration is a decoded expires_at field.
type Expiration struct {
	Kind ExpirationKind
	At   time.Time // UTC; set only when Kind is ExpirationAt
}

// ExpiredAt reports whether the entry is expired at now. Only a valid
// timestamp strictly before now counts; absent and invalid never do.
func (e Expiration) ExpiredAt(now time.Time) bool {
	return e.Kind == ExpirationAt && e.At.Before(now)
}

// EncodeExpiration renders t as decimal Unix seconds, dropping any
// sub-second part.
func EncodeExpiration(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// DecodeExpiration parses the raw expires_at value. present is false when
// the field is missing from the metadata.
func DecodeExpiration(raw string, present bool) Expiration {
	if !present {
		return Expiration{Kind: ExpirationAbsent}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < minExpiration || secs > maxExpiration {
		return Expiration{Kind: ExpirationInvalid}
	}
	return Expiration{Kind: ExpirationAt, At: time.Unix(secs, 0).UTC()}
}

// expirationFromMetadata decodes the expires_at field of md.
func expirationFromMetadata(md map[string]string) (Expiration, string) {
	raw, ok := md[ExpiresAtKey]
	return DecodeExpiration(raw, ok), raw
}
