package goals

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/GrigoryEvko/rtlink/internal/errs"
)

// aliasRow is one line of an alias spreadsheet export.
type aliasRow struct {
	Canonical string `csv:"canonical"`
	Alias     string `csv:"alias"`
}

// unmarshalCSV parses CSV data with a header line into a slice of struct
// pointers. Columns are matched to string fields by name or csv tag;
// unknown columns are ignored.
func unmarshalCSV(reader io.Reader, v interface{}) error {
	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return err
	}
	slice := reflect.ValueOf(v).Elem()
	if len(records) == 0 {
		slice.Set(reflect.MakeSlice(slice.Type(), 0, 0))
		return nil
	}
	itemType := slice.Type().Elem().Elem()

	// column index -> field index
	columns := make(map[int]int, len(records[0]))
	for j, h := range records[0] {
		header := strings.TrimSpace(h)
		for i := 0; i < itemType.NumField(); i++ {
			f := itemType.Field(i)
			if f.Type.Kind() != reflect.String {
				continue
			}
			if strings.EqualFold(f.Name, header) || f.Tag.Get("csv") == strings.ToLower(header) {
				columns[j] = i
				break
			}
		}
	}

	out := reflect.MakeSlice(slice.Type(), 0, len(records)-1)
	for _, record := range records[1:] {
		item := reflect.New(itemType)
		for j, value := range record {
			if i, ok := columns[j]; ok {
				item.Elem().Field(i).SetString(strings.TrimSpace(value))
			}
		}
		out = reflect.Append(out, item)
	}
	slice.Set(out)
	return nil
}

// LoadAliasCSV reads an alias table from a CSV file with canonical and alias
// columns. Rows with an empty canonical name are skipped; a canonical name
// with an empty alias is kept without aliases.
func LoadAliasCSV(path string) (*Aliases, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	defer file.Close()

	var rows []*aliasRow
	if err := unmarshalCSV(file, &rows); err != nil {
		return nil, errs.NewConfigTableMalformed(path, "", err)
	}
	entries := make(map[string][]string)
	for _, row := range rows {
		if row.Canonical == "" {
			continue
		}
		if row.Alias == "" {
			if _, ok := entries[row.Canonical]; !ok {
				entries[row.Canonical] = nil
			}
			continue
		}
		entries[row.Canonical] = append(entries[row.Canonical], row.Alias)
	}
	return NewAliases(entries), nil
}
