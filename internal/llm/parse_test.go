package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrderRef(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0012345", "12345"},
		{" 12345 ", "12345"},
		{"0000", "0"},
		{"", ""},
		{"A0123", "A0123"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeOrderRef(tc.in), "input %q", tc.in)
	}
}

func TestStripMarkdownFence(t *testing.T) {
	body := `{"orders": []}`
	assert.Equal(t, body, StripMarkdownFence(body))
	assert.Equal(t, body, StripMarkdownFence("```json\n"+body+"\n```"))
	assert.Equal(t, body, StripMarkdownFence("```\n"+body+"\n```"))
}

func TestParseOrdersEnvelope(t *testing.T) {
	data := []byte(`{"orders":[{"order_ref":"0012345","products":[
		{"product_code":"MHL10","product_desc":"Pallet","product_qty":4,"unit_price":"12.50"},
		{"product_code":"ABC123","product_qty":2}
	]}]}`)
	orders, err := ParseOrders(data)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "12345", orders[0].OrderRef)
	require.Len(t, orders[0].Products, 2)
	assert.Equal(t, ProductLine{ProductCode: "MHL10", Description: "Pallet", Quantity: 4, UnitPrice: "12.50"}, orders[0].Products[0])
}

func TestParseOrdersAliases(t *testing.T) {
	data := []byte(`[{"order_number":"789","items":[
		{"code":"XYZ900","description":"Widget","quantity":3,"unit_price":7.5}
	]}]`)
	orders, err := ParseOrders(data)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "789", orders[0].OrderRef)
	require.Len(t, orders[0].Products, 1)
	p := orders[0].Products[0]
	assert.Equal(t, "XYZ900", p.ProductCode)
	assert.Equal(t, "Widget", p.Description)
	assert.Equal(t, 3, p.Quantity)
	assert.Equal(t, "7.50", p.UnitPrice)
}

func TestParseOrdersHeaderFields(t *testing.T) {
	data := []byte(`{"orders":[{"order_ref":"0012345","account_num":"BQ01",
		"delivery_add":"1 Dock Road, Liverpool","invoice_to":"Head Office","customer_ref":"PO-9981",
		"products":[{"product_code":"MHL10","product_qty":4}]}]}`)
	orders, err := ParseOrders(data)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, "12345", o.OrderRef)
	assert.Equal(t, "BQ01", o.AccountNum)
	assert.Equal(t, "1 Dock Road, Liverpool", o.DeliveryAddress)
	assert.Equal(t, "Head Office", o.InvoiceTo)
	assert.Equal(t, "PO-9981", o.CustomerRef)

	// alias spellings fold into the canonical fields
	aliased := []byte(`[{"order_number":"7","account_number":"AC9","delivery_address":"2 Mill Lane",
		"items":[{"code":"X1Y","qty":1}]}]`)
	orders, err = ParseOrders(aliased)
	require.NoError(t, err)
	assert.Equal(t, "AC9", orders[0].AccountNum)
	assert.Equal(t, "2 Mill Lane", orders[0].DeliveryAddress)
}

func TestParseOrdersSingleObject(t *testing.T) {
	data := []byte(`{"order_ref":"55","products":[{"product_code":"A1","product_qty":1}]}`)
	orders, err := ParseOrders(data)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "55", orders[0].OrderRef)
}

func TestParseOrdersSkipsCodelessLines(t *testing.T) {
	data := []byte(`{"orders":[{"order_ref":"1","products":[
		{"product_desc":"no code here","product_qty":9},
		{"product_code":"OK1","product_qty":1}
	]}]}`)
	orders, err := ParseOrders(data)
	require.NoError(t, err)
	require.Len(t, orders[0].Products, 1)
	assert.Equal(t, "OK1", orders[0].Products[0].ProductCode)
}

func TestParseOrdersRejectsGarbage(t *testing.T) {
	_, err := ParseOrders([]byte(`"just a string"`))
	assert.Error(t, err)
}
