// Driftline - Client-Side Analytics Event Pipeline
// Copyright 2026 Driftline Contributors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/driftline/driftline-go

package wire

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		keepUnit bool
		want     string
	}{
		{"clean string untouched", "hello world", false, "hello world"},
		{"record separator stripped", "a\x1eb", false, "ab"},
		{"unit separator stripped", "a\x1fb", false, "ab"},
		{"unit separator preserved", "k\x1fv", true, "k\x1fv"},
		{"record separator stripped even when keeping unit", "a\x1eb\x1fc", true, "ab\x1fc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in, tt.keepUnit); got != tt.want {
				t.Errorf("Sanitize(%q, %v) = %q, want %q", tt.in, tt.keepUnit, got, tt.want)
			}
		})
	}
}

func TestSafeEvent_Truncation(t *testing.T) {
	long := strings.Repeat("x", 500)
	got := SafeEvent(long)
	if len(got) != MaxEventLen {
		t.Errorf("SafeEvent length = %d, want %d", len(got), MaxEventLen)
	}

	if got := SafeEvent("purchase"); got != "purchase" {
		t.Errorf("SafeEvent(purchase) = %q", got)
	}
}

func TestEncodeArgs_SortedDeterministic(t *testing.T) {
	args := map[string]string{"zeta": "1", "alpha": "2", "mid": "3"}
	want := "alpha\x1f2\x1fmid\x1f3\x1fzeta\x1f1"

	for i := 0; i < 10; i++ {
		if got := EncodeArgs(args); got != want {
			t.Fatalf("EncodeArgs = %q, want %q", got, want)
		}
	}
}

func TestEncodeArgs_Empty(t *testing.T) {
	if got := EncodeArgs(nil); got != "" {
		t.Errorf("EncodeArgs(nil) = %q, want empty", got)
	}
}

func TestEncodeArgs_SanitizesKeysAndValues(t *testing.T) {
	args := map[string]string{"k\x1eey": "v\x1fal"}
	if got := EncodeArgs(args); got != "key\x1fval" {
		t.Errorf("EncodeArgs = %q, want %q", got, "key\x1fval")
	}
}

func TestFitArgs_Invariant(t *testing.T) {
	tests := []struct {
		name  string
		event string
		args  string
	}{
		{"short both", "ev", "a\x1fb"},
		{"args overflow", "event", strings.Repeat("a", 300)},
		{"event at limit", strings.Repeat("e", MaxEventLen), "args"},
		{"both empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitArgs(tt.event, tt.args)
			if len(tt.event)+len(got) > MaxEventLen {
				t.Errorf("len(event)+len(args) = %d, want <= %d",
					len(tt.event)+len(got), MaxEventLen)
			}
		})
	}
}

func TestFormatRevenue(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"whole amount drops cents", 5.00, "5"},
		{"fractional keeps two decimals", 5.5, "5.50"},
		{"clamped above", 1000000.00, "999999.99"},
		{"clamped below", -1000000.00, "-999999.99"},
		{"zero", 0, "0"},
		{"negative fractional", -1.25, "-1.25"},
		{"rounds to two decimals", 2.999, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRevenue(tt.in); got != tt.want {
				t.Errorf("FormatRevenue(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	// Clamping round-trip: over-limit formats identically to the limit.
	if FormatRevenue(1000000.00) != FormatRevenue(999999.99) {
		t.Error("clamped revenue must format identically to the limit")
	}
}

func TestUserDataEncode(t *testing.T) {
	u := UserData{
		ID:          "abc123",
		Device:      "Pixel 9",
		OS:          "Android 16",
		BundleID:    "com.example.app",
		Debug:       true,
		Version:     "2.1.0",
		Language:    "en",
		InstallDate: 1735689600,
	}
	got := u.Encode()
	want := "abc123\x1ePixel 9\x1eAndroid 16\x1ecom.example.app\x1e1\x1e2.1.0\x1een\x1e1735689600"
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestBody_FieldOrder(t *testing.T) {
	body := Body("app1", 1700000000, "tap", "5.50", "k\x1fv", "user-data", "AB")
	fields := strings.Split(body, RecordSep)
	want := []string{"app1", "1700000000", "tap", "5.50", "k\x1fv", "user-data", "AB"}
	if len(fields) != len(want) {
		t.Fatalf("field count = %d, want %d", len(fields), len(want))
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, fields[i], want[i])
		}
	}
}

func TestBody_OmitsEmptyABLetters(t *testing.T) {
	body := Body("app1", 1700000000, "tap", "", "", "ud", "")
	fields := strings.Split(body, RecordSep)
	if len(fields) != 6 {
		t.Errorf("field count = %d, want 6 (abLetters omitted)", len(fields))
	}
}
