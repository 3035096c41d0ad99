package model

import "strings"

// VerifyStatus classifies the outcome of verifying a lead's email address.
type VerifyStatus string

const (
	// VerifyStatusValid means the provider confirmed the mailbox exists.
	VerifyStatusValid VerifyStatus = "Valid"
	// VerifyStatusCatchAll means the domain accepts all addresses, so the
	// mailbox could not be confirmed individually.
	VerifyStatusCatchAll VerifyStatus = "Catch-All"
	// VerifyStatusUnverified means the address was guessed from a known
	// format but never confirmed by the provider.
	VerifyStatusUnverified VerifyStatus = "Unverified"
	// VerifyStatusInvalid means no candidate address verified.
	VerifyStatusInvalid VerifyStatus = "Invalid"
)

// Lead is one row of an uploaded leads workbook after header normalization.
type Lead struct {
	FirstName string
	LastName  string
	Company   string
	Role      string
	// Email is the guessed address produced by the cleaning step.
	Email string
	// VerifiedEmail is the address that survived verification, if any.
	VerifiedEmail string
	Status        VerifyStatus
	// Extra holds pass-through columns keyed by normalized header name.
	Extra map[string]string
}

// Complete reports whether the mandatory identity fields are all present.
func (l Lead) Complete() bool {
	return strings.TrimSpace(l.FirstName) != "" &&
		strings.TrimSpace(l.LastName) != "" &&
		strings.TrimSpace(l.Company) != ""
}

// Domain derives the company mail domain the way the pipeline guesses it:
// lower-cased company name with spaces removed, under .com.
func (l Lead) Domain() string {
	company := strings.ReplaceAll(strings.ToLower(l.Company), " ", "")
	if company == "" {
		return ""
	}
	return company + ".com"
}

// DedupeKey identifies a lead for duplicate removal.
func (l Lead) DedupeKey() string {
	return strings.ToLower(l.FirstName) + "\x00" +
		strings.ToLower(l.LastName) + "\x00" +
		strings.ToLower(l.Company)
}
