package services

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"athena-rag-backend/internal/logger"
	"athena-rag-backend/models"
)

// ExportService renders notes into downloadable spreadsheets.
type ExportService struct{}

func NewExportService() *ExportService {
	return &ExportService{}
}

// NoteToExcel writes one note as a workbook: a Note sheet with the body
// and a Citations sheet listing every cited document page.
func (es *ExportService) NoteToExcel(note *models.Note) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Error("Error closing Excel file", "error", err)
		}
	}()

	sheetName := "Note"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)

	f.SetCellValue(sheetName, "A1", "Title")
	f.SetCellValue(sheetName, "B1", note.Title)
	f.SetCellValue(sheetName, "A2", "Created")
	f.SetCellValue(sheetName, "B2", note.CreatedAt.Format("2006-01-02 15:04:05"))
	f.SetCellValue(sheetName, "A3", "Updated")
	f.SetCellValue(sheetName, "B3", note.UpdatedAt.Format("2006-01-02 15:04:05"))
	f.SetCellValue(sheetName, "A5", "Body")
	f.SetCellValue(sheetName, "A6", note.Body)

	citationsSheet := "Citations"
	if _, err := f.NewSheet(citationsSheet); err != nil {
		return nil, fmt.Errorf("failed to create citations sheet: %w", err)
	}
	f.SetCellValue(citationsSheet, "A1", "Document ID")
	f.SetCellValue(citationsSheet, "B1", "Page")
	for i, c := range note.Citations {
		row := i + 2
		f.SetCellValue(citationsSheet, fmt.Sprintf("A%d", row), c.DocumentID)
		f.SetCellValue(citationsSheet, fmt.Sprintf("B%d", row), c.Page)
	}

	f.SetColWidth(sheetName, "A", "A", 12)
	f.SetColWidth(sheetName, "B", "B", 40)
	f.SetColWidth(citationsSheet, "A", "A", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf, nil
}
