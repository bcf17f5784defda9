package source

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"dimload/internal/domain"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when a batch file is not CSV or XLSX.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Reject describes a source row that could not be turned into a record. It
// counts against the batch summary but never aborts the batch.
type Reject struct {
	RowNumber int
	Reason    string
}

// Batch is the normalized output of one source file: ordered records plus
// per-row rejects.
type Batch struct {
	Records []domain.SourceRecord
	Rejects []Reject
}

// Reader parses customer batch files into records according to the
// configured field roles.
type Reader struct {
	roles domain.FieldRoles
}

// NewReader creates a reader for the given field roles.
func NewReader(roles domain.FieldRoles) *Reader {
	return &Reader{roles: roles}
}

// Read parses the batch file named fileName from data. The format is picked
// from the file extension. A missing business-key column is a batch-level
// error; a row with an empty business key becomes a Reject.
func (r *Reader) Read(fileName string, data io.Reader) (Batch, error) {
	if data == nil {
		return Batch{}, errors.New("data reader is required")
	}

	payload, err := io.ReadAll(data)
	if err != nil {
		return Batch{}, fmt.Errorf("failed to read source: %w", err)
	}
	if len(payload) == 0 {
		return Batch{}, errors.New("source file is empty")
	}

	var rows [][]string
	switch ext := strings.ToLower(filepath.Ext(fileName)); ext {
	case ".csv":
		rows, err = parseCSV(payload)
	case ".xlsx":
		rows, err = parseExcel(payload)
	default:
		return Batch{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Batch{}, err
	}

	return r.normalize(rows)
}

func parseCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	rows, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return rows, nil
}

func parseExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return rows, nil
}

// normalize turns raw rows into records: the first non-empty row is the
// header, subsequent non-empty rows become SourceRecords keyed by sanitized
// header name.
func (r *Reader) normalize(rows [][]string) (Batch, error) {
	var headers []string
	headerIndex := -1
	batch := Batch{}

	for idx, row := range rows {
		if isEmptyRow(row) {
			continue
		}
		if headers == nil {
			headers = sanitizeHeaders(row)
			headerIndex = idx
			continue
		}

		rowNumber := idx + 1 // 1-based, as in the source file
		record := make(domain.SourceRecord, len(headers))
		for colIdx, header := range headers {
			if colIdx < len(row) {
				record[header] = strings.TrimSpace(row[colIdx])
			} else {
				record[header] = ""
			}
		}

		if record.Get(r.roles.BusinessKey) == "" {
			batch.Rejects = append(batch.Rejects, Reject{
				RowNumber: rowNumber,
				Reason:    fmt.Sprintf("missing required field %q", r.roles.BusinessKey),
			})
			continue
		}

		batch.Records = append(batch.Records, record)
	}

	if headers == nil {
		return Batch{}, errors.New("header row could not be detected")
	}

	headerSet := make(map[string]struct{}, len(headers))
	for _, h := range headers {
		headerSet[h] = struct{}{}
	}
	if _, ok := headerSet[r.roles.BusinessKey]; !ok {
		return Batch{}, fmt.Errorf("source is missing business key column %q (header row %d)", r.roles.BusinessKey, headerIndex+1)
	}

	return batch, nil
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.ToLower(strings.TrimSpace(value))
		name = strings.ReplaceAll(name, " ", "_")
		name = strings.ReplaceAll(name, ".", "_")
		name = strings.ReplaceAll(name, "-", "_")
		name = strings.Trim(name, "_")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}
