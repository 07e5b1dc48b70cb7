package infrastructure

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestParseCSV(t *testing.T) {
	data := "member_id,period_start,period_end,amount\n" +
		"m-1,2024-03-01,2024-03-31,600.00\n" +
		",,,400\n" +
		"\n"
	lines, err := NewSheetParser().Parse("march.CSV", strings.NewReader(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[0].MemberID != "m-1" || lines[0].PeriodStart == nil || !lines[0].PeriodStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected first line %+v", lines[0])
	}
	if lines[1].MemberID != "" || lines[1].PeriodStart != nil || lines[1].Amount.String() != "400" {
		t.Errorf("unexpected second line %+v", lines[1])
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"missing amount column", "a.csv", "member_id\nm-1\n"},
		{"bad amount", "a.csv", "member_id,amount\nm-1,abc\n"},
		{"bad date", "a.csv", "member_id,period_start,amount\nm-1,03/01/2024,1\n"},
		{"header only", "a.csv", "member_id,amount\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSheetParser().Parse(tt.file, strings.NewReader(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := NewSheetParser().Parse("a.xml", strings.NewReader("<x/>")); !errors.Is(err, ErrUnsupportedSheet) {
		t.Errorf("expected ErrUnsupportedSheet, got %v", err)
	}
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Member_ID", "Amount"},
		{"m-1", "125.50"},
		{"m-2", "74.50"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}

	lines, err := NewSheetParser().Parse("remit.xlsx", buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(lines) != 2 || lines[1].MemberID != "m-2" || lines[1].Amount.String() != "74.5" {
		t.Errorf("unexpected lines %+v", lines)
	}
}
