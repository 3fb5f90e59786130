package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeOrderRef trims the reference and strips leading zeros, keeping a
// single zero if nothing else remains.
func NormalizeOrderRef(ref string) string {
	ref = strings.TrimSpace(ref)
	trimmed := strings.TrimLeft(ref, "0")
	if trimmed == "" && ref != "" {
		return "0"
	}
	return trimmed
}

// StripMarkdownFence removes a single outer ``` fence (with optional language
// tag) when the whole content is wrapped in one. Anything else passes through
// unchanged.
func StripMarkdownFence(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		lang := strings.TrimSpace(s[:idx])
		if lang == "" || !strings.ContainsAny(lang, "{}[]") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

type rawProduct struct {
	ProductCode string   `json:"product_code"`
	Code        string   `json:"code"`
	ProductDesc string   `json:"product_desc"`
	Description string   `json:"description"`
	ProductQty  *float64 `json:"product_qty"`
	Quantity    *float64 `json:"quantity"`
	Qty         *float64 `json:"qty"`
	UnitPrice   any      `json:"unit_price"`
}

type rawOrder struct {
	OrderRef    string       `json:"order_ref"`
	OrderNo     string       `json:"order_number"`
	AccountNum  string       `json:"account_num"`
	AccountNo   string       `json:"account_number"`
	DeliveryAdd string       `json:"delivery_add"`
	DeliveryFul string       `json:"delivery_address"`
	InvoiceTo   string       `json:"invoice_to"`
	CustomerRef string       `json:"customer_ref"`
	Products    []rawProduct `json:"products"`
	Items       []rawProduct `json:"items"`
}

type rawEnvelope struct {
	Orders []rawOrder `json:"orders"`
}

// ParseOrders decodes a model reply into the normalized order shape. It
// tolerates the shapes models actually emit: the canonical {"orders": [...]}
// envelope, a bare order array, or a single order object. Field aliases
// (quantity/qty, description, order_number) fold into the canonical names and
// order references lose their leading zeros.
func ParseOrders(data []byte) ([]ExtractedOrder, error) {
	var env rawEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.Orders) > 0 {
		return convertOrders(env.Orders), nil
	}

	var list []rawOrder
	if err := json.Unmarshal(data, &list); err == nil && len(list) > 0 {
		return convertOrders(list), nil
	}

	var single rawOrder
	if err := json.Unmarshal(data, &single); err == nil &&
		(single.OrderRef != "" || single.OrderNo != "" || len(single.Products) > 0 || len(single.Items) > 0) {
		return convertOrders([]rawOrder{single}), nil
	}

	return nil, fmt.Errorf("unrecognized response shape")
}

func convertOrders(raw []rawOrder) []ExtractedOrder {
	out := make([]ExtractedOrder, 0, len(raw))
	for _, ro := range raw {
		ref := ro.OrderRef
		if ref == "" {
			ref = ro.OrderNo
		}
		products := ro.Products
		if len(products) == 0 {
			products = ro.Items
		}
		eo := ExtractedOrder{
			OrderRef:        NormalizeOrderRef(ref),
			AccountNum:      firstNonEmpty(ro.AccountNum, ro.AccountNo),
			DeliveryAddress: firstNonEmpty(ro.DeliveryAdd, ro.DeliveryFul),
			InvoiceTo:       strings.TrimSpace(ro.InvoiceTo),
			CustomerRef:     strings.TrimSpace(ro.CustomerRef),
		}
		for _, rp := range products {
			p := convertProduct(rp)
			if p.ProductCode == "" {
				continue
			}
			eo.Products = append(eo.Products, p)
		}
		out = append(out, eo)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func convertProduct(rp rawProduct) ProductLine {
	code := strings.TrimSpace(rp.ProductCode)
	if code == "" {
		code = strings.TrimSpace(rp.Code)
	}
	desc := rp.ProductDesc
	if desc == "" {
		desc = rp.Description
	}
	qty := 0
	for _, q := range []*float64{rp.ProductQty, rp.Quantity, rp.Qty} {
		if q != nil {
			qty = int(*q)
			break
		}
	}
	var price string
	switch t := rp.UnitPrice.(type) {
	case string:
		price = strings.TrimSpace(t)
	case float64:
		price = fmt.Sprintf("%.2f", t)
	}
	return ProductLine{
		ProductCode: code,
		Description: desc,
		Quantity:    qty,
		UnitPrice:   price,
	}
}
