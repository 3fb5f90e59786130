// Package export renders batch extraction results as XLSX workbooks.
package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/newpennine/orderextract/internal/core"
)

// BatchItem pairs a source document with its extraction result.
type BatchItem struct {
	Filename string
	Result   *core.Result
}

// Service produces XLSX bytes for batch run reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ExportBatchXLSX returns an XLSX workbook with one row per extracted product
// line and a per-document summary sheet.
func (s *Service) ExportBatchXLSX(items []BatchItem) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	const ordersSheet = "Orders"
	const summarySheet = "Summary"
	if index, _ := f.GetSheetIndex(ordersSheet); index == -1 {
		if _, err := f.NewSheet(ordersSheet); err != nil {
			return nil, err
		}
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(ordersSheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Source File",
		"Order Ref",
		"Product Code",
		"Description",
		"Quantity",
		"Unit Price",
		"Validated",
		"Corrected From",
		"Confidence",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ordersSheet, cell, h)
	}

	row := 2
	for _, item := range items {
		if item.Result == nil || !item.Result.Success {
			continue
		}
		for _, p := range item.Result.Products {
			write := func(col int, v any) {
				cell, _ := excelize.CoordinatesToCellName(col, row)
				_ = f.SetCellValue(ordersSheet, cell, v)
			}
			write(1, item.Filename)
			write(2, item.Result.OrderRef)
			write(3, p.ProductCode)
			write(4, p.Description)
			write(5, p.Quantity)
			write(6, p.UnitPrice)
			write(7, p.IsValidated)
			write(8, p.OriginalCode)
			if p.Confidence > 0 {
				write(9, fmt.Sprintf("%.2f", p.Confidence))
			}
			row++
		}
	}

	sumHeaders := []string{
		"Source File",
		"Success",
		"Method",
		"Order Ref",
		"Account",
		"Delivery Address",
		"Invoice To",
		"Customer Ref",
		"Products",
		"Tokens",
		"Duration (ms)",
		"Error",
	}
	for i, h := range sumHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(summarySheet, cell, h)
	}
	srow := 2
	for _, item := range items {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, srow)
			_ = f.SetCellValue(summarySheet, cell, v)
		}
		write(1, item.Filename)
		if item.Result == nil {
			write(2, false)
			srow++
			continue
		}
		write(2, item.Result.Success)
		write(3, string(item.Result.Method))
		write(4, item.Result.OrderRef)
		write(5, item.Result.AccountNum)
		write(6, item.Result.DeliveryAddress)
		write(7, item.Result.InvoiceTo)
		write(8, item.Result.CustomerRef)
		write(9, len(item.Result.Products))
		write(10, item.Result.TokensUsed)
		write(11, item.Result.Duration.Milliseconds())
		write(12, item.Result.Error)
		srow++
	}

	_ = f.SetColWidth(ordersSheet, "A", "A", 32)
	_ = f.SetColWidth(ordersSheet, "B", "C", 14)
	_ = f.SetColWidth(ordersSheet, "D", "D", 40)
	_ = f.SetColWidth(ordersSheet, "E", "I", 12)
	_ = f.SetColWidth(summarySheet, "A", "A", 32)
	_ = f.SetColWidth(summarySheet, "B", "D", 14)
	_ = f.SetColWidth(summarySheet, "E", "H", 24)
	_ = f.SetColWidth(summarySheet, "I", "L", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"documents", len(items),
		"rows", row-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
