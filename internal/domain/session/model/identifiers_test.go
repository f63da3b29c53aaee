// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dns1123 = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

func TestSessionInstanceID_Deterministic(t *testing.T) {
	assert.Equal(t, "case-12345", SessionInstanceID("12345"))
	assert.Equal(t, SessionInstanceID("CaseABC"), SessionInstanceID("caseabc"))
	assert.Equal(t, "case-12345-eventListener", ListenerInstanceID(SessionInstanceID("12345")))
}

func TestDNSLabel_KeepsDistinctCasesApart(t *testing.T) {
	a := DNSLabel("a_b", 63)
	b := DNSLabel("a.b", 63)
	c := DNSLabel("a-b", 63)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "a-b", c)

	for _, in := range []string{"a_b", "Ünïcode/Case 7", "----", strings.Repeat("x", 200), "%%%"} {
		label := DNSLabel(in, 40)
		assert.Regexp(t, dns1123, label, "input %q", in)
		assert.LessOrEqual(t, len(label), 40, "input %q", in)
	}
}

func TestComputeName(t *testing.T) {
	assert.Equal(t, "engine-12345", ComputeName("", "12345"))
	assert.Equal(t, "eng-abc", ComputeName("eng", "ABC"))
	long := ComputeName("engine", strings.Repeat("9", 120))
	assert.LessOrEqual(t, len(long), 63)
	assert.Regexp(t, dns1123, long)
}

func TestSameCase(t *testing.T) {
	assert.True(t, SameCase("abc-1", "ABC-1"))
	assert.False(t, SameCase("abc-1", "abc-2"))
}

func TestValidateCaseNumber(t *testing.T) {
	require.NoError(t, ValidateCaseNumber("12345"))
	for _, bad := range []string{"", "  ", " 12", strings.Repeat("1", 300)} {
		err := ValidateCaseNumber(bad)
		assert.True(t, errors.Is(err, ErrBadRequest), "input %q", bad)
	}
}

func TestFailedHandle(t *testing.T) {
	h := FailedHandle("engine-1", errors.New("boom"))
	assert.Equal(t, ComputeError, h.Status)
	assert.Equal(t, "boom", h.LastErrorMessage)
	assert.Empty(t, h.Address)
	assert.False(t, h.Healthy())
}
