package contactimport_test

import (
	"strings"
	"testing"

	"voxcampaign/internal/contactimport"
)

func TestParse_HeaderSynonyms(t *testing.T) {
	cases := []string{
		"phone,name,email\n+15551110001,Ann,ann@example.com\n",
		"Phone Number,name\n+15551110002,Bob\n",
		"mobile\n+15551110003\n",
		"Telephone,Email\n+15551110004,carol@example.com\n",
		"ContactNumber\n+15551110005\n",
	}
	for _, csv := range cases {
		rows, err := contactimport.Parse(strings.NewReader(csv))
		if err != nil {
			t.Fatalf("Parse(%q): %v", csv, err)
		}
		if len(rows) != 1 {
			t.Fatalf("Parse(%q): got %d rows, want 1", csv, len(rows))
		}
		if rows[0].Phone == "" {
			t.Errorf("Parse(%q): empty phone", csv)
		}
	}
}

func TestParse_SkipsRowsWithoutPhone(t *testing.T) {
	csv := "phone,name\n,Ann\n+15551110001,Bob\n  ,Carol\n"
	rows, err := contactimport.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Phone != "+15551110001" || rows[0].Name != "Bob" {
		t.Errorf("got %+v, want phone +15551110001 name Bob", rows[0])
	}
}

func TestParse_NoRecognizableColumn(t *testing.T) {
	csv := "foo,bar\nbaz,qux\n"
	rows, err := contactimport.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rows != nil {
		t.Errorf("got %d rows, want none", len(rows))
	}
}

func TestParse_EmptyInput(t *testing.T) {
	rows, err := contactimport.Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rows != nil {
		t.Errorf("got %d rows, want none", len(rows))
	}
}
