package source

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"dimload/internal/domain"

	"github.com/xuri/excelize/v2"
)

func TestReaderParsesCSV(t *testing.T) {
	reader := NewReader(domain.DefaultFieldRoles())

	data := `customer_id,first_name,last_name,email,company_name,phone
C001,Ada,Lovelace,ada@example.com,Analytical Engines,555-0001
C002,Grace,Hopper,grace@example.com,Navy Systems,555-0002
`
	batch, err := reader.Read("customers.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}

	if len(batch.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(batch.Records))
	}
	if len(batch.Rejects) != 0 {
		t.Fatalf("expected no rejects, got %d", len(batch.Rejects))
	}
	if got := batch.Records[0].Get("customer_id"); got != "C001" {
		t.Fatalf("expected first record key C001, got %q", got)
	}
	if got := batch.Records[1].Get("company_name"); got != "Navy Systems" {
		t.Fatalf("unexpected company for second record: %q", got)
	}
}

func TestReaderSkipsBOMAndEmptyRows(t *testing.T) {
	reader := NewReader(domain.DefaultFieldRoles())

	data := "\xEF\xBB\xBFcustomer_id,company_name\n\nC001,Test Co\n,,\n"
	batch, err := reader.Read("customers.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}

	if len(batch.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(batch.Records))
	}
	if got := batch.Records[0].Get("customer_id"); got != "C001" {
		t.Fatalf("BOM not stripped from header, key lookup got %q", got)
	}
}

func TestReaderRejectsEmptyBusinessKey(t *testing.T) {
	reader := NewReader(domain.DefaultFieldRoles())

	data := `customer_id,company_name
C001,Test Co
,Orphan Co
`
	batch, err := reader.Read("customers.csv", strings.NewReader(data))
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}

	if len(batch.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(batch.Records))
	}
	if len(batch.Rejects) != 1 {
		t.Fatalf("expected 1 reject, got %d", len(batch.Rejects))
	}
	if batch.Rejects[0].RowNumber != 3 {
		t.Fatalf("expected reject at row 3, got %d", batch.Rejects[0].RowNumber)
	}
}

func TestReaderFailsOnMissingBusinessKeyColumn(t *testing.T) {
	reader := NewReader(domain.DefaultFieldRoles())

	data := `first_name,company_name
Ada,Test Co
`
	if _, err := reader.Read("customers.csv", strings.NewReader(data)); err == nil {
		t.Fatalf("expected error for missing business key column")
	}
}

func TestReaderRejectsUnsupportedFormat(t *testing.T) {
	reader := NewReader(domain.DefaultFieldRoles())

	_, err := reader.Read("customers.json", strings.NewReader("{}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestReaderParsesXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"customer_id", "company_name", "email"},
		{"C010", "Sheet Co", "c10@example.com"},
		{"C011", "Cell Co", "c11@example.com"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("coordinates: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	reader := NewReader(domain.DefaultFieldRoles())
	batch, err := reader.Read("customers.xlsx", &buf)
	if err != nil {
		t.Fatalf("read returned error: %v", err)
	}

	if len(batch.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(batch.Records))
	}
	if got := batch.Records[1].Get("company_name"); got != "Cell Co" {
		t.Fatalf("unexpected company: %q", got)
	}
}
