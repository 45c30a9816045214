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

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// termPattern matches term labels like "2024T1".
var termPattern = regexp.MustCompile(`^(\d{4})T(\d)$`)

// Term is a parsed academic term label.
//
// Description:
//
//	Terms order lexicographically on (year, number): 2024T3 precedes
//	2025T1. The zero value is invalid; always construct via ParseTerm.
type Term struct {
	// Year is the calendar year, e.g. 2024.
	Year int

	// Number is the term number within the year, e.g. 1 for T1.
	Number int
}

// ParseTerm parses a label like "2024T1".
func ParseTerm(label string) (Term, error) {
	m := termPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(label)))
	if m == nil {
		return Term{}, fmt.Errorf("malformed term label %q (want e.g. 2024T1)", label)
	}
	year, _ := strconv.Atoi(m[1])
	number, _ := strconv.Atoi(m[2])
	return Term{Year: year, Number: number}, nil
}

// Before reports whether t strictly precedes other.
func (t Term) Before(other Term) bool {
	if t.Year != other.Year {
		return t.Year < other.Year
	}
	return t.Number < other.Number
}

// Label renders the term back to its "2024T1" form.
func (t Term) Label() string {
	return fmt.Sprintf("%dT%d", t.Year, t.Number)
}

// OfferingLabel returns the within-year offering label, e.g. "T1", used to
// match against a course's offering terms.
func (t Term) OfferingLabel() string {
	return fmt.Sprintf("T%d", t.Number)
}
