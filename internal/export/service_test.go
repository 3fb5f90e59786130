package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/newpennine/orderextract/constants"
	"github.com/newpennine/orderextract/internal/core"
)

func TestExportBatchXLSX(t *testing.T) {
	items := []BatchItem{
		{
			Filename: "order-1.pdf",
			Result: &core.Result{
				Success:         true,
				OrderRef:        "12345",
				AccountNum:      "BQ01",
				DeliveryAddress: "1 Dock Road, Liverpool",
				InvoiceTo:       "Head Office",
				CustomerRef:     "PO-9981",
				Method:          constants.MethodPrimary,
				TokensUsed:      420,
				Duration:        1500 * time.Millisecond,
				Products: []core.ProductLine{
					{ProductCode: "MHL10", Description: "Pallet", Quantity: 4, IsValidated: true, Confidence: 1.0},
					{ProductCode: "MHEASYB", Quantity: 2, IsValidated: true, WasCorrected: true, OriginalCode: "MHEASYB1", Confidence: 1.0},
				},
			},
		},
		{
			Filename: "order-2.pdf",
			Result: &core.Result{
				Success: false,
				Method:  constants.MethodFailed,
				Error:   "all extraction strategies failed",
			},
		},
	}

	data, err := NewService(nil).ExportBatchXLSX(items)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows("Orders")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per product line of the successful document")
	assert.Equal(t, "order-1.pdf", rows[1][0])
	assert.Equal(t, "12345", rows[1][1])
	assert.Equal(t, "MHL10", rows[1][2])
	assert.Equal(t, "MHEASYB1", rows[2][7])

	summary, err := f.GetRows("Summary")
	require.NoError(t, err)
	require.Len(t, summary, 3)
	assert.Equal(t, "order-1.pdf", summary[1][0])
	assert.Equal(t, "BQ01", summary[1][4])
	assert.Equal(t, "1 Dock Road, Liverpool", summary[1][5])
	assert.Equal(t, "Head Office", summary[1][6])
	assert.Equal(t, "PO-9981", summary[1][7])
	assert.Equal(t, "order-2.pdf", summary[2][0])
	assert.Equal(t, string(constants.MethodFailed), summary[2][2])
}
