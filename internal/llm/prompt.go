package llm

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/newpennine/orderextract/constants"
)

// BuildSystemPrompt is the instruction block for order extraction. Transport
// charge lines are named explicitly so the model drops them instead of
// inventing product rows for them.
func BuildSystemPrompt() string {
	codes := make([]string, 0, len(constants.TransportCodes))
	for c := range constants.TransportCodes {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	parts := []string{
		"You are an order document parser. Return ONLY JSON that matches the JSON Schema provided.",
		"Extract every product line: product_code, product_desc, product_qty, and unit_price when printed.",
		"product_qty must be a positive integer. Skip any line whose quantity is unreadable.",
		"Extract the order header fields when printed: account_num, delivery_add, invoice_to, and customer_ref.",
		"Exclude transport and delivery charge lines entirely. Known transport codes: " + strings.Join(codes, ", ") + ".",
		"order_ref is the order reference number without leading zeros.",
		"Never output null. If a field is not present, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt wraps the document text with the schema reminder.
func BuildUserPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Order document text:\n")
	b.WriteString(text)
	b.WriteString("\n\nReturn ONLY JSON that matches the provided schema.")
	return b.String()
}

// MustJSON renders a schema map for inclusion in a prompt.
func MustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
