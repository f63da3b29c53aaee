// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/text/cases"
)

const (
	sessionIDPrefix    = "case-"
	listenerIDSuffix   = "-eventListener"
	maxDNSLabel        = 63
	hashSuffixLen      = 9 // "-" + 8 hex digits
	maxCaseNumberRunes = 256
)

var folder = cases.Fold()

// FoldCase returns the caseless form used for every case-number comparison.
func FoldCase(caseNumber string) string {
	return folder.String(caseNumber)
}

// SameCase reports whether two case numbers name the same case.
func SameCase(a, b string) bool {
	return FoldCase(a) == FoldCase(b)
}

// ValidateCaseNumber rejects case numbers that cannot name a session.
func ValidateCaseNumber(caseNumber string) error {
	trimmed := strings.TrimSpace(caseNumber)
	if trimmed == "" {
		return fmt.Errorf("%w: case number is empty", ErrBadRequest)
	}
	if trimmed != caseNumber {
		return fmt.Errorf("%w: case number has surrounding whitespace", ErrBadRequest)
	}
	if len([]rune(caseNumber)) > maxCaseNumberRunes {
		return fmt.Errorf("%w: case number is longer than %d characters", ErrBadRequest, maxCaseNumberRunes)
	}
	return nil
}

// DNSLabel maps a case number to a lowercase RFC 1123 label of at most max bytes.
// Case numbers that differ only in letter case map to the same label; any other
// difference that sanitizing would hide is kept apart by a hash suffix.
func DNSLabel(caseNumber string, max int) string {
	if max > maxDNSLabel || max <= 0 {
		max = maxDNSLabel
	}
	folded := FoldCase(caseNumber)

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	label := strings.Trim(b.String(), "-")

	if label != folded || len(label) > max {
		h := fnv.New32a()
		_, _ = h.Write([]byte(folded))
		suffix := fmt.Sprintf("-%08x", h.Sum32())
		if len(label) > max-hashSuffixLen {
			label = strings.TrimRight(label[:max-hashSuffixLen], "-")
		}
		label = strings.TrimLeft(label+suffix, "-")
	}
	return label
}

// SessionInstanceID derives the session orchestration ID from the case number.
// Starting with this ID is the per-case compare-and-start.
func SessionInstanceID(caseNumber string) string {
	return sessionIDPrefix + DNSLabel(caseNumber, maxDNSLabel)
}

// ListenerInstanceID derives the event listener ID from its session's ID.
// Every external event for a live session is addressed here.
func ListenerInstanceID(sessionInstanceID string) string {
	return sessionInstanceID + listenerIDSuffix
}

// ComputeName derives the deployment and service name for a case.
func ComputeName(prefix, caseNumber string) string {
	if prefix == "" {
		prefix = "engine"
	}
	return prefix + "-" + DNSLabel(caseNumber, maxDNSLabel-len(prefix)-1)
}
