package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx"
	"go.uber.org/multierr"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

// Encoder writes an inventory.
type Encoder interface {
	Encode(w io.Writer, inv *Inventory) error
	Extension() string
}

// CSVEncoder writes rows as comma separated values.
type CSVEncoder struct{}

// TSVEncoder writes rows as tab separated values.
type TSVEncoder struct{}

// JSONEncoder writes the report, hierarchy and unresolved records.
type JSONEncoder struct{}

// XLSXEncoder writes rows and issues to two sheets.
type XLSXEncoder struct{}

func (CSVEncoder) Encode(w io.Writer, inv *Inventory) error { return encodesv(w, inv, ',') }
func (CSVEncoder) Extension() string                        { return ".csv" }

func (TSVEncoder) Encode(w io.Writer, inv *Inventory) error { return encodesv(w, inv, '\t') }
func (TSVEncoder) Extension() string                        { return ".tsv" }

func encodesv(w io.Writer, inv *Inventory, separator rune) error {
	writer := csv.NewWriter(w)
	writer.Comma = separator

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range inv.Rows {
		if err := writer.Write(r.values()); err != nil {
			return fmt.Errorf("failed to write record %s: %w", r.SOPInstanceUID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

func (JSONEncoder) Encode(w io.Writer, inv *Inventory) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(inv)
}

func (JSONEncoder) Extension() string { return ".json" }

func (XLSXEncoder) Encode(w io.Writer, inv *Inventory) error {
	file := xlsx.NewFile()

	sheet, err := file.AddSheet("Inventory")
	if err != nil {
		return err
	}
	addRow(sheet, header)
	for _, r := range inv.Rows {
		row := sheet.AddRow()
		for i, v := range r.values() {
			cell := row.AddCell()
			if header[i] == "Hops" {
				cell.SetInt(r.Hops)
				continue
			}
			cell.SetString(v)
		}
	}

	issues, err := file.AddSheet("Issues")
	if err != nil {
		return err
	}
	addRow(issues, []string{"Kind", "PatientID", "UID", "Path", "Detail"})
	if inv.Report != nil {
		for _, issue := range inv.Report.Issues {
			addRow(issues, []string{string(issue.Kind), issue.PatientID, issue.UID, issue.Path, issue.Detail})
		}
	}
	return file.Write(w)
}

func (XLSXEncoder) Extension() string { return ".xlsx" }

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// NewEncoder returns the encoder of a format name or file extension.
func NewEncoder(format string) (Encoder, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "csv":
		return CSVEncoder{}, nil
	case "tsv":
		return TSVEncoder{}, nil
	case "json":
		return JSONEncoder{}, nil
	case "xlsx":
		return XLSXEncoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errs.ErrUnsupportedExportFormat, format)
	}
}

// WriteFile encodes inv into path, creating its directory.
func WriteFile(path string, enc Encoder, inv *Inventory) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("could not create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return enc.Encode(f, inv)
}
