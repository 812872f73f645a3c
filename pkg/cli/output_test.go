package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

type entries []struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (e entries) Table() Table {
	t := Table{Headers: []string{"ID", "STATE"}}
	for _, row := range e {
		t.Rows = append(t.Rows, []string{row.ID, row.State})
	}
	return t
}

func testEntries() entries {
	return entries{
		{ID: "pe-1", State: "available"},
		{ID: "pe-20", State: "assigned"},
	}
}

func TestTextFormatterTable(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, testEntries()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if lines[0] != "ID     STATE" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "pe-20  assigned" {
		t.Errorf("row = %q", lines[2])
	}
}

func TestTextFormatterFallback(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&TextFormatter{}).FormatTo(buf, "session cleared"); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}
	if buf.String() != "session cleared\n" {
		t.Errorf("FormatTo() = %q", buf.String())
	}
}

func TestJSONFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := (&JSONFormatter{Indent: true}).FormatTo(buf, testEntries()); err != nil {
		t.Fatalf("FormatTo() error = %v", err)
	}

	var got []map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if len(got) != 2 || got[1]["state"] != "assigned" {
		t.Errorf("unexpected output %v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("expected indented output")
	}
}

func TestNewFormatter(t *testing.T) {
	tests := []struct {
		format  OutputFormat
		want    string
		wantErr bool
	}{
		{"", "*cli.TextFormatter", false},
		{FormatText, "*cli.TextFormatter", false},
		{FormatJSON, "*cli.JSONFormatter", false},
		{"csv", "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			f, err := NewFormatter(tt.format)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewFormatter() error = %v", err)
			}
			if got := typeName(f); got != tt.want {
				t.Errorf("NewFormatter() = %s, want %s", got, tt.want)
			}
		})
	}
}

func typeName(f Formatter) string {
	switch f.(type) {
	case *TextFormatter:
		return "*cli.TextFormatter"
	case *JSONFormatter:
		return "*cli.JSONFormatter"
	default:
		return "unknown"
	}
}
