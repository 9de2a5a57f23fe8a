package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDateRoundTrip(t *testing.T) {
	d := NewDate(2024, time.July, 29)
	if got := d.String(); got != "2024-07-29" {
		t.Fatalf("expected 2024-07-29, got %s", got)
	}

	parsed, err := ParseDate("2024-07-29")
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if !parsed.Equal(d) {
		t.Errorf("parsed date %v does not equal original %v", parsed, d)
	}
}

func TestParseDateInvalid(t *testing.T) {
	cases := []string{"", "2024-13-01", "29/07/2024", "2024-07-29T00:00:00Z", "notadate"}
	for _, c := range cases {
		if _, err := ParseDate(c); err == nil {
			t.Errorf("expected error parsing %q, got nil", c)
		}
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(2024, time.July, 29)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2024-07-29"` {
		t.Fatalf("expected quoted ISO date, got %s", b)
	}

	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("round trip mismatch: %v != %v", back, d)
	}

	if err := json.Unmarshal([]byte(`"bogus"`), &back); err == nil {
		t.Error("expected error for malformed date string")
	}
}

func TestSoilMoistureRecordJSON(t *testing.T) {
	rec := SoilMoistureRecord{
		Date:     NewDate(2024, time.July, 29),
		Lat:      10.0,
		Lon:      30.0,
		Moisture: 0.12,
	}

	b, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	want := `{"date":"2024-07-29","lat":10,"lon":30,"moisture":0.12}`
	if string(b) != want {
		t.Errorf("unexpected JSON:\n got: %s\nwant: %s", b, want)
	}
}

func TestDateOrdering(t *testing.T) {
	a := NewDate(2024, time.July, 1)
	b := NewDate(2024, time.July, 31)
	if !b.After(a) {
		t.Error("expected July 31 to be after July 1")
	}
	if a.After(b) {
		t.Error("expected July 1 not to be after July 31")
	}
}
