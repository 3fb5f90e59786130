package document

import "regexp"

// ValidationResult lists expected order elements that are missing from the
// extracted text. Missing elements are warnings, not fatal errors; extraction
// proceeds regardless.
type ValidationResult struct {
	IsValid         bool
	MissingElements []string
}

var (
	orderRefPattern    = regexp.MustCompile(`(?i)order\s+(reference|ref|no|number)`)
	productHdrPattern  = regexp.MustCompile(`(?i)(item|product)\s+code`)
	productCodePattern = regexp.MustCompile(`(?m)^[A-Z][A-Z0-9]{2,}`)
	qtyPattern         = regexp.MustCompile(`(?i)qty|quantity|amount`)
)

// Validate checks the extracted text for the indicators an order document is
// expected to carry.
func Validate(text string) ValidationResult {
	var missing []string
	if !orderRefPattern.MatchString(text) {
		missing = append(missing, "order reference")
	}
	if !productHdrPattern.MatchString(text) && !productCodePattern.MatchString(text) {
		missing = append(missing, "product table")
	}
	if !qtyPattern.MatchString(text) {
		missing = append(missing, "quantity column")
	}
	return ValidationResult{IsValid: len(missing) == 0, MissingElements: missing}
}
