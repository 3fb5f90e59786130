package llm

// BuildOrderJSONSchema returns the JSON-Schema (draft 2020-12 subset) for the
// order extraction response as a generic map. It is passed to the completion
// backend as a structured-output hint and used locally to validate replies.
func BuildOrderJSONSchema() map[string]any {
	product := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"product_code": map[string]any{"type": "string", "minLength": 1},
			"product_desc": map[string]any{"type": "string"},
			"product_qty":  map[string]any{"type": "integer", "minimum": 1},
			"unit_price":   map[string]any{"type": "string"},
		},
		"required": []string{"product_code", "product_qty"},
	}
	order := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"order_ref":    map[string]any{"type": "string"},
			"account_num":  map[string]any{"type": "string"},
			"delivery_add": map[string]any{"type": "string"},
			"invoice_to":   map[string]any{"type": "string"},
			"customer_ref": map[string]any{"type": "string"},
			"products":     map[string]any{"type": "array", "items": product},
		},
		"required": []string{"order_ref", "products"},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"orders": map[string]any{"type": "array", "items": order},
		},
		"required": []string{"orders"},
	}
}
