// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eligibility

import "testing"

func TestParseTerm(t *testing.T) {
	tests := []struct {
		in      string
		want    Term
		wantErr bool
	}{
		{"2024T1", Term{2024, 1}, false},
		{"2026T3", Term{2026, 3}, false},
		{" 2024t2 ", Term{2024, 2}, false},
		{"T1", Term{}, true},
		{"2024", Term{}, true},
		{"2024T12", Term{}, true},
		{"", Term{}, true},
		{"2024S1", Term{}, true},
	}

	for _, tt := range tests {
		got, err := ParseTerm(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTerm(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseTerm(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestTermBefore(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"2024T1", "2024T2", true},
		{"2024T3", "2025T1", true},
		{"2025T1", "2024T3", false},
		{"2024T1", "2024T1", false},
		{"2024T2", "2024T1", false},
	}

	for _, tt := range tests {
		a, err := ParseTerm(tt.a)
		if err != nil {
			t.Fatalf("ParseTerm(%q): %v", tt.a, err)
		}
		b, err := ParseTerm(tt.b)
		if err != nil {
			t.Fatalf("ParseTerm(%q): %v", tt.b, err)
		}
		if got := a.Before(b); got != tt.want {
			t.Errorf("%s Before %s = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTermLabels(t *testing.T) {
	term, err := ParseTerm("2026T1")
	if err != nil {
		t.Fatalf("ParseTerm: %v", err)
	}
	if term.Label() != "2026T1" {
		t.Errorf("Label() = %q, want 2026T1", term.Label())
	}
	if term.OfferingLabel() != "T1" {
		t.Errorf("OfferingLabel() = %q, want T1", term.OfferingLabel())
	}
}
