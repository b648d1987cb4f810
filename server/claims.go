package server

import (
	"github.com/veriden/idp-oauth/storage"
)

// Verification tiers exposed through the verify scope.
const (
	VerificationTierHigh = "high"
	VerificationTierNone = "none"
)

// buildClaims projects profile fields into a claims object. Each scope
// unlocks a fixed, disjoint set of fields; nothing outside the token's scope
// set is ever disclosed. The subject identifier is always present. Without a
// linked profile the claims are limited to the subject identifier.
func buildClaims(subjectID string, profile *storage.Profile, scopes []string) map[string]any {
	claims := map[string]any{
		"sub": subjectID,
	}
	if profile == nil {
		return claims
	}

	scopeSet := make(map[string]bool, len(scopes))
	for _, s := range scopes {
		scopeSet[s] = true
	}

	if scopeSet["profile"] {
		claims["given_name"] = profile.GivenName
		claims["family_name"] = profile.FamilyName
		claims["name"] = profile.FullName()
		claims["birthdate"] = profile.BirthDate
		claims["gender"] = profile.Gender
		claims["birthplace"] = profile.BirthPlace
		if profile.MaidenName != "" {
			claims["maiden_name"] = profile.MaidenName
		}
		if profile.FatherName != "" {
			claims["father_name"] = profile.FatherName
		}
		if profile.MotherName != "" {
			claims["mother_name"] = profile.MotherName
		}
	}

	if scopeSet["nip"] {
		claims["nip"] = profile.NationalID
		claims["nip_verified"] = profile.Active
	}

	if scopeSet["email"] && profile.Email != "" {
		claims["email"] = profile.Email
		claims["email_verified"] = profile.EmailVerified
	}

	if scopeSet["phone"] && profile.Phone != "" {
		claims["phone_number"] = profile.Phone
		claims["phone_number_verified"] = profile.PhoneVerified
	}

	if scopeSet["address"] && profile.Address != "" {
		claims["address"] = profile.Address
		claims["address_verified"] = profile.AddressVerified
	}

	if scopeSet["diplomas"] {
		claims["diplomas"] = verifiedDiplomas(profile.Diplomas)
	}

	if scopeSet["documents"] {
		claims["documents"] = activeDocuments(profile.Documents)
	}

	if scopeSet["biometrics"] {
		// Presence flags only, never raw biometric payloads
		if profile.PhotoURL != "" {
			claims["photo_url"] = profile.PhotoURL
		}
		claims["has_photo"] = profile.HasPhoto
		claims["has_fingerprint"] = profile.HasFingerprint
	}

	if scopeSet["verify"] {
		claims["identity_verified"] = profile.Active
		if profile.Active {
			claims["verification_tier"] = VerificationTierHigh
		} else {
			claims["verification_tier"] = VerificationTierNone
		}
	}

	return claims
}

// verifiedDiplomas filters diploma records to verified ones. Unverified
// diplomas are never disclosed regardless of scope.
func verifiedDiplomas(diplomas []storage.Diploma) []map[string]any {
	out := make([]map[string]any, 0, len(diplomas))
	for _, d := range diplomas {
		if d.VerificationStatus != storage.DiplomaStatusVerified {
			continue
		}
		out = append(out, map[string]any{
			"id":          d.ID,
			"title":       d.Title,
			"institution": d.Institution,
			"issued_at":   d.IssuedAt,
		})
	}
	return out
}

// activeDocuments filters identity-document records to active ones.
func activeDocuments(documents []storage.IdentityDocument) []map[string]any {
	out := make([]map[string]any, 0, len(documents))
	for _, d := range documents {
		if d.Status != storage.DocumentStatusActive {
			continue
		}
		out = append(out, map[string]any{
			"id":         d.ID,
			"type":       d.Type,
			"number":     d.Number,
			"issued_at":  d.IssuedAt,
			"expires_at": d.ExpiresAt,
		})
	}
	return out
}
