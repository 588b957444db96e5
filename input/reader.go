package input

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/SeanNg93/Gmail-app-password-tester/consts"
	"github.com/SeanNg93/Gmail-app-password-tester/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ReadRows parses a CSV table with a header row. A leading UTF-8 byte order
// mark is tolerated, header cells are trimmed and extra columns are kept but
// ignored downstream. Short records read their missing cells as empty.
func ReadRows(r io.Reader) ([]Row, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		if _, err := br.Discard(len(utf8BOM)); err != nil {
			return nil, err
		}
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	warnMissingColumns(header)

	var rows []Row
	for number := FirstDataRow; ; number++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", number, err)
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(record) {
				fields[name] = record[i]
			}
		}
		rows = append(rows, Row{Number: number, Fields: fields})
	}

	return rows, nil
}

func warnMissingColumns(header []string) {
	for _, required := range []string{consts.ColumnEmail, consts.ColumnAppPassword} {
		found := false
		for _, name := range header {
			if name == required {
				found = true
				break
			}
		}
		if !found {
			logger.Warn("Input is missing a required column, its rows will be skipped", "column", required)
		}
	}
}

// Load reads and classifies the CSV file at path. Only an unreadable file
// is an error.
func Load(path string) ([]Credential, []Skip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	rows, err := ReadRows(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse input %s: %w", path, err)
	}

	valid, skipped := Classify(rows)
	return valid, skipped, nil
}
