// Package llm defines the completion-backend contract for structured order
// extraction plus the response schema and parsing shared by its adapters.
package llm

import "context"

// ProductLine is one extracted order line in the normalized wire shape.
type ProductLine struct {
	ProductCode string `json:"product_code"`
	Description string `json:"product_desc,omitempty"`
	Quantity    int    `json:"product_qty"`
	UnitPrice   string `json:"unit_price,omitempty"`
}

// ExtractedOrder is one order as reported by the model, including the
// document header fields printed above the product table.
type ExtractedOrder struct {
	OrderRef        string        `json:"order_ref"`
	AccountNum      string        `json:"account_num,omitempty"`
	DeliveryAddress string        `json:"delivery_add,omitempty"`
	InvoiceTo       string        `json:"invoice_to,omitempty"`
	CustomerRef     string        `json:"customer_ref,omitempty"`
	Products        []ProductLine `json:"products"`
}

// ExtractRequest carries one completion call. Model and SystemPrompt override
// the adapter defaults when non-empty; Seed pins sampling for reproducible
// runs.
type ExtractRequest struct {
	Text              string
	Model             string
	SystemPrompt      string
	MaxResponseTokens int
	Seed              *int
}

// ExtractResult is the parsed outcome of one completion call.
type ExtractResult struct {
	Orders     []ExtractedOrder
	TokensUsed int
	Model      string
	RawJSON    []byte
}

// CompletionService is the interface the orchestrator depends on.
type CompletionService interface {
	ExtractOrders(ctx context.Context, req ExtractRequest) (ExtractResult, error)
}
