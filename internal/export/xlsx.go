// Package export renders the staff review queue as an XLSX workbook.
package export

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/transferdesk/slipcheck/internal/model"
)

var reportHeader = []string{
	"ID", "Filename", "Source", "Uploaded By", "Status",
	"Expected Amount", "Detected Amount", "Detected Reference",
	"Reference Match", "Amount Match", "OCR Confidence",
	"Review Events", "Created At", "Updated At",
}

// WriteReport writes one row per slip to an XLSX file at path, with a
// summary sheet counting slips per status.
func WriteReport(path string, slips []model.SlipRecord) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Slips")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range reportHeader {
		header.AddCell().SetString(h)
	}

	for i := range slips {
		addSlipRow(sheet.AddRow(), &slips[i])
	}

	if err := addSummarySheet(f, slips); err != nil {
		return err
	}

	return eris.Wrapf(f.Save(path), "xlsx: save %s", path)
}

func addSlipRow(row *xlsx.Row, rec *model.SlipRecord) {
	row.AddCell().SetString(rec.ID)
	row.AddCell().SetString(rec.Filename)
	row.AddCell().SetString(string(rec.Source))
	row.AddCell().SetString(rec.UploadedBy)
	row.AddCell().SetString(string(rec.Status))
	setFloatCell(row.AddCell(), rec.ExpectedAmount)
	setFloatCell(row.AddCell(), rec.DetectedAmount)
	setStringCell(row.AddCell(), rec.DetectedReference)
	setBoolCell(row.AddCell(), rec.Match)
	setBoolCell(row.AddCell(), rec.AmountMatch)
	setFloatCell(row.AddCell(), rec.OCRConfidence)
	row.AddCell().SetInt(len(rec.ReviewTrail))
	row.AddCell().SetString(rec.CreatedAt.Format(time.RFC3339))
	row.AddCell().SetString(rec.UpdatedAt.Format(time.RFC3339))
}

func addSummarySheet(f *xlsx.File, slips []model.SlipRecord) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "xlsx: add summary sheet")
	}

	counts := map[model.SlipStatus]int{}
	for i := range slips {
		counts[slips[i].Status]++
	}

	header := sheet.AddRow()
	header.AddCell().SetString("Status")
	header.AddCell().SetString("Count")
	for _, status := range []model.SlipStatus{
		model.StatusPending, model.StatusProcessing,
		model.StatusValidated, model.StatusFailed,
	} {
		row := sheet.AddRow()
		row.AddCell().SetString(string(status))
		row.AddCell().SetInt(counts[status])
	}
	return nil
}

// Undetermined checks export as blank cells so staff can filter on them.

func setFloatCell(cell *xlsx.Cell, v *float64) {
	if v == nil {
		cell.SetString("")
		return
	}
	cell.SetFloat(*v)
}

func setBoolCell(cell *xlsx.Cell, v *bool) {
	if v == nil {
		cell.SetString("")
		return
	}
	cell.SetBool(*v)
}

func setStringCell(cell *xlsx.Cell, v *string) {
	if v == nil {
		cell.SetString("")
		return
	}
	cell.SetString(*v)
}
