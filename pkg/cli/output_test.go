package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func sampleTable() *Table {
	table := NewTable("STREAM", "INDEX", "SIZE")
	table.AddRow("api", "api-000001", FormatBytes(5<<30))
	table.AddRow("postgres", "postgres-000012", FormatBytes(0))
	return table
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{"junit", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTextFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Render(buf, FormatText, sampleTable(), nil); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	expected := "" +
		"STREAM    INDEX            SIZE\n" +
		"api       api-000001       5.0 GiB\n" +
		"postgres  postgres-000012  0 B\n"
	if buf.String() != expected {
		t.Errorf("Render() =\n%s\nwant\n%s", buf.String(), expected)
	}

	buf.Reset()
	if err := Render(buf, FormatText, nil, "no records"); err != nil || buf.String() != "no records\n" {
		t.Errorf("Render(nil table) = %q, %v", buf.String(), err)
	}
}

func TestJSONFormatter(t *testing.T) {
	raw := map[string]int{"applied": 2}
	buf := &bytes.Buffer{}
	if err := Render(buf, FormatJSON, sampleTable(), raw); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	var got map[string]int
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["applied"] != 2 {
		t.Errorf("decoded = %v", got)
	}
	if !strings.Contains(buf.String(), "\n  ") {
		t.Error("JSON output should be indented")
	}
}

func TestCSVFormatter(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := Render(buf, FormatCSV, sampleTable(), nil); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	expected := "STREAM,INDEX,SIZE\napi,api-000001,5.0 GiB\npostgres,postgres-000012,0 B\n"
	if buf.String() != expected {
		t.Errorf("Render() = %q, want %q", buf.String(), expected)
	}

	if err := Render(buf, FormatCSV, nil, "x"); err == nil {
		t.Error("CSV without a table should fail")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:       "0 B",
		1023:    "1023 B",
		1 << 20: "1.0 MiB",
		-2048:   "-2.0 KiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
