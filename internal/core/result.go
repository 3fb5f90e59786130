// Package core sequences the extraction strategies for one order document and
// assembles the final result.
package core

import (
	"encoding/json"
	"time"

	"github.com/newpennine/orderextract/constants"
)

// ProductLine is one validated order line.
type ProductLine struct {
	ProductCode  string  `json:"product_code"`
	Description  string  `json:"product_desc,omitempty"`
	Quantity     int     `json:"product_qty"`
	UnitPrice    string  `json:"unit_price,omitempty"`
	IsValidated  bool    `json:"is_validated"`
	WasCorrected bool    `json:"was_corrected,omitempty"`
	OriginalCode string  `json:"original_code,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// Result is the terminal outcome of one extraction. Extract always returns
// one; failures carry Error instead of propagating.
type Result struct {
	Success         bool                       `json:"success"`
	OrderRef        string                     `json:"order_ref,omitempty"`
	AccountNum      string                     `json:"account_num,omitempty"`
	DeliveryAddress string                     `json:"delivery_add,omitempty"`
	InvoiceTo       string                     `json:"invoice_to,omitempty"`
	CustomerRef     string                     `json:"customer_ref,omitempty"`
	Products        []ProductLine              `json:"products,omitempty"`
	Method          constants.ExtractionMethod `json:"method"`
	Model           string                     `json:"model,omitempty"`
	TokensUsed      int                        `json:"tokens_used"`
	PageCount       int                        `json:"page_count"`
	CacheHit        bool                       `json:"cache_hit"`
	Duration        time.Duration              `json:"duration_ns"`
	Warnings        []string                   `json:"warnings,omitempty"`
	Error           string                     `json:"error,omitempty"`
}

// ApproxSize estimates the result's cache footprint in bytes.
func (r *Result) ApproxSize() int64 {
	b, err := json.Marshal(r)
	if err != nil {
		return 1024
	}
	return int64(len(b))
}

// clone returns a copy safe to hand out alongside the cached original.
func (r *Result) clone() *Result {
	out := *r
	out.Products = append([]ProductLine(nil), r.Products...)
	out.Warnings = append([]string(nil), r.Warnings...)
	return &out
}
