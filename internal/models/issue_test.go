package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePriority_MostSpecificBucketWins(t *testing.T) {
	cases := []struct {
		raw      string
		expected Priority
	}{
		{"VERY HIGH", PriorityCritical},
		{"very high", PriorityCritical},
		{"CRITICAL", PriorityCritical},
		{"URGENT", PriorityCritical},
		{"HIGH", PriorityHigh},
		{"높음", PriorityHigh},
		{"NORMAL", PriorityMedium},
		{"LOW", PriorityLow},
		{"MINOR", PriorityTrivial},
		{"", PriorityMedium},
		{"something unrecognized", PriorityMedium},
	}

	for _, tc := range cases {
		// Repeated runs exercise that the result is stable, not just
		// plausible: a map-backed lookup would flip between buckets across
		// iterations for overlapping substrings like "VERY HIGH".
		for i := 0; i < 20; i++ {
			assert.Equal(t, tc.expected, NormalizePriority(tc.raw), "raw=%q iteration=%d", tc.raw, i)
		}
	}
}

func TestNormalizeStatus_KnownBuckets(t *testing.T) {
	cases := []struct {
		raw      string
		expected Status
	}{
		{"CLOSED", StatusClosed},
		{"CLOSED_P", StatusClosed},
		{"RESOLVED", StatusResolved},
		{"REJECT", StatusRejected},
		{"IN_PROGRESS", StatusInProgress},
		{"PENDING", StatusPending},
		{"OPEN", StatusOpen},
		{"", StatusOpen},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.expected, NormalizeStatus(tc.raw), "raw=%q", tc.raw)
	}
}

func TestIssueNormalize_SynthesizesTitle(t *testing.T) {
	issue := &Issue{ImsID: "IMS-1"}
	issue.Normalize()
	assert.Equal(t, "Issue IMS-1", issue.Title)
}

func TestIssueNormalize_CapsActionLog(t *testing.T) {
	long := make([]byte, maxActionLogChars+500)
	for i := range long {
		long[i] = 'a'
	}
	issue := &Issue{ImsID: "IMS-2", ActionLog: string(long)}
	issue.Normalize()
	assert.Len(t, issue.ActionLog, maxActionLogChars)
}
