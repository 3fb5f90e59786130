package core

import (
	"fmt"
	"regexp"
)

// Audit lists the problems a reviewer should look at before trusting a
// result, with a suggested action for each.
type Audit struct {
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Clean       bool     `json:"clean"`
}

var orderRefShape = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// AuditResult inspects a finished extraction for signs of a bad read. It
// never mutates the result.
func AuditResult(res *Result) Audit {
	var a Audit
	if !res.Success {
		a.Issues = append(a.Issues, "extraction failed: "+res.Error)
		a.Suggestions = append(a.Suggestions, "inspect the source document manually")
		return a
	}

	if res.OrderRef == "" {
		a.Issues = append(a.Issues, "no order reference extracted")
		a.Suggestions = append(a.Suggestions, "check the document header for the reference field")
	} else if !orderRefShape.MatchString(res.OrderRef) {
		a.Issues = append(a.Issues, fmt.Sprintf("order reference %q has unexpected characters", res.OrderRef))
		a.Suggestions = append(a.Suggestions, "verify the reference against the document")
	}

	if len(res.Products) == 0 {
		a.Issues = append(a.Issues, "no product lines extracted")
	}

	unvalidated := 0
	for _, p := range res.Products {
		if p.Quantity <= 0 {
			a.Issues = append(a.Issues, fmt.Sprintf("product %s has quantity %d", p.ProductCode, p.Quantity))
			a.Suggestions = append(a.Suggestions, fmt.Sprintf("confirm the quantity column for %s", p.ProductCode))
		}
		if !p.IsValidated {
			unvalidated++
		}
	}
	if unvalidated > 0 {
		a.Issues = append(a.Issues, fmt.Sprintf("%d of %d product codes not found in the catalog", unvalidated, len(res.Products)))
		a.Suggestions = append(a.Suggestions, "review unvalidated codes before posting the order")
	}

	if res.PageCount > 1 && len(res.Products) < 3 {
		a.Issues = append(a.Issues, fmt.Sprintf("%d pages produced only %d product lines", res.PageCount, len(res.Products)))
		a.Suggestions = append(a.Suggestions, "re-run with chunked extraction or inspect the later pages")
	}

	a.Clean = len(a.Issues) == 0
	return a
}
