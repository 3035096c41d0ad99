package pipeline

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/leadforge/leadforge/internal/domain/model"
)

// Workbook column headers after normalization.
const (
	colFirstName      = "FIRST NAME"
	colLastName       = "LAST NAME"
	colCompany        = "COMPANY"
	colRole           = "ROLE"
	colEmail          = "EMAIL"
	colEmailStatus    = "EMAIL STATUS"
	colValidatedEmail = "VALIDATED EMAIL"
)

// ReadLeads parses the first sheet of an xlsx workbook into leads. Headers
// are trimmed and upper-cased before matching; unknown columns are carried
// through in Lead.Extra.
func ReadLeads(r io.Reader) ([]model.Lead, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("workbook has no header row")
	}

	headers := make([]string, len(rows[0]))
	seen := map[string]bool{}
	for i, h := range rows[0] {
		headers[i] = strings.ToUpper(strings.TrimSpace(h))
		seen[headers[i]] = true
	}
	for _, required := range []string{colFirstName, colLastName, colCompany} {
		if !seen[required] {
			return nil, fmt.Errorf("workbook is missing required column %q", required)
		}
	}

	leads := make([]model.Lead, 0, len(rows)-1)
	for _, row := range rows[1:] {
		lead := model.Lead{Extra: map[string]string{}}
		empty := true
		for i, header := range headers {
			var cell string
			if i < len(row) {
				cell = strings.TrimSpace(row[i])
			}
			if cell != "" {
				empty = false
			}
			switch header {
			case colFirstName:
				lead.FirstName = cell
			case colLastName:
				lead.LastName = cell
			case colCompany:
				lead.Company = cell
			case colRole:
				lead.Role = cell
			case colEmail:
				lead.Email = cell
			case colEmailStatus, colValidatedEmail:
				// Regenerated by the pipeline; never read back.
			case "":
				// Unnamed column, nothing to key it by.
			default:
				lead.Extra[header] = cell
			}
		}
		if empty {
			continue
		}
		leads = append(leads, lead)
	}
	return leads, nil
}

// WriteLeads serializes leads into an xlsx workbook. Fixed columns come
// first, then any pass-through columns in sorted order.
func WriteLeads(leads []model.Lead) ([]byte, error) {
	extraSet := map[string]bool{}
	for _, lead := range leads {
		for k := range lead.Extra {
			extraSet[k] = true
		}
	}
	extras := make([]string, 0, len(extraSet))
	for k := range extraSet {
		extras = append(extras, k)
	}
	sort.Strings(extras)

	headers := []string{
		colFirstName, colLastName, colCompany, colRole,
		colEmail, colEmailStatus, colValidatedEmail,
	}
	headers = append(headers, extras...)

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}

	for i, lead := range leads {
		row := []any{
			lead.FirstName, lead.LastName, lead.Company, lead.Role,
			lead.Email, string(lead.Status), lead.VerifiedEmail,
		}
		for _, k := range extras {
			row = append(row, lead.Extra[k])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("compute cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
