package security

import "time"

// DefaultClockSkewGracePeriod is the grace period applied to expiry checks
// on authorization codes and access tokens. It absorbs typical NTP drift
// between the issuing server and replicas so a token is not reported expired
// a moment after it was minted on another host.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsTokenExpired checks if a credential is expired with the default clock
// skew grace period
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks if a credential is expired with a
// custom clock skew grace period. A zero expiry means no expiration.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
