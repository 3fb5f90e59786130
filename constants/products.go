package constants

import "strings"

// TransportCodes are carriage/shipping line items that must never appear as
// order products. Completion prompts exclude them; the normalizer drops any
// that leak through.
var TransportCodes = map[string]struct{}{
	"TRANS":    {},
	"TRANSDPD": {},
	"TRANSC":   {},
}

// IsTransportCode reports whether code is a shipping charge rather than a product.
func IsTransportCode(code string) bool {
	_, ok := TransportCodes[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

// CodeOverrides maps known misread product codes to their correct form.
// These are hand-curated fixes for recurring extraction mistakes, typically a
// spurious trailing character picked up from an adjacent column. The table is
// a precedence layer: codes absent from it go through the normal
// cache/catalog/fuzzy resolution.
var CodeOverrides = map[string]string{
	"MHL101":    "MHL10",
	"MHL151":    "MHL15",
	"MHEASYA1":  "MHEASYA",
	"MHEASYB1":  "MHEASYB",
	"MHCONKITL": "MHCONKIT",
	"MHWEDGE1":  "MHWEDGE",
}
