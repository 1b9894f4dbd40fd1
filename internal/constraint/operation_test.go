package constraint

import (
	"strings"
	"testing"
	"time"

	"github.com/agentgate/agentgate/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestImpactScore(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{})
	require.NoError(t, err)

	cases := []struct {
		name string
		op   types.OperationContext
		want float64
	}{
		{"read", types.OperationContext{Operation: types.OpRead, TargetPath: "docs/a.md"}, 0.08},
		{"write", types.OperationContext{Operation: types.OpWrite, TargetPath: "src/a.go"}, 0.48},
		{"delete", types.OperationContext{Operation: types.OpDelete, TargetPath: "src/a.go"}, 0.72},
		{"modify", types.OperationContext{Operation: types.OpModify, TargetPath: "src/a.go"}, 0.56},
		{"unknown type", types.OperationContext{Operation: "exec", TargetPath: "src/a.go"}, 0.4},
		{"core floor", types.OperationContext{Operation: types.OpRead, TargetPath: "src/core/a.go"}, 0.4},
		{"large content floor", types.OperationContext{Operation: types.OpRead, TargetPath: "docs/a.md", Content: strings.Repeat("x", 1001)}, 0.3},
		{"test ceiling", types.OperationContext{Operation: types.OpWrite, TargetPath: "src/a_test.go"}, 0.48},
		{"contradiction maxes out", types.OperationContext{Operation: types.OpDelete, TargetPath: "src/a_test.go"}, 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, c.ImpactScore(tc.op), 1e-9)
		})
	}
}

func TestHighImpactDeleteRejected(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{
		MaxOperationsPerMinute: 100,
		AllowedOperations:      []string{"read", "write", "delete", "modify"},
		MaxImpactScore:         0.3,
	})
	require.NoError(t, err)

	op := types.OperationContext{
		Operation:  types.OpDelete,
		TargetPath: "src/core/engine.go",
		Content:    strings.Repeat("x", 1500),
	}
	require.GreaterOrEqual(t, c.ImpactScore(op), 0.4)

	r := c.Check(op)
	require.False(t, r.OK())
	require.Contains(t, r.Errors[0], "impact score")
}

func TestRateWindowEvictsOldEntries(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{
		MaxOperationsPerMinute: 2,
		AllowedOperations:      []string{"read"},
	})
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	op := types.OperationContext{Operation: types.OpRead, TargetPath: "docs/a.md"}
	require.True(t, c.Check(op).OK())
	require.True(t, c.Check(op).OK())
	require.False(t, c.Check(op).OK(), "third op inside the window must be rejected")
	require.Equal(t, 2, c.WindowSize())

	// Advance past the window; the slots free up.
	now = now.Add(61 * time.Second)
	require.True(t, c.Check(op).OK())
	require.Equal(t, 1, c.WindowSize())
}

func TestRejectedOperationsNotRecorded(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{
		MaxOperationsPerMinute: 10,
		AllowedOperations:      []string{"read"},
	})
	require.NoError(t, err)

	require.False(t, c.Check(types.OperationContext{Operation: types.OpWrite}).OK())
	require.Equal(t, 0, c.WindowSize())
}

func TestRestrictedPatternAndFileSize(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{
		AllowedOperations:  []string{"write"},
		MaxFileSizeMB:      1,
		RestrictedPatterns: []string{`rm\s+-rf`, `(?i)api[_-]?key`},
	})
	require.NoError(t, err)

	r := c.Check(types.OperationContext{
		Operation:  types.OpWrite,
		TargetPath: "scripts/clean.sh",
		Content:    "rm -rf / # API_KEY=abc",
		FileSize:   2 * 1024 * 1024,
	})
	require.False(t, r.OK())
	// File size plus both patterns.
	require.Len(t, r.Errors, 3)
}

func TestInvalidPatternRejectedAtConstruction(t *testing.T) {
	_, err := NewOperationConstraint(OperationConfig{
		RestrictedPatterns: []string{`(unclosed`},
	})
	require.Error(t, err)
}

func TestAvgImpact(t *testing.T) {
	c, err := NewOperationConstraint(OperationConfig{
		AllowedOperations: []string{"read", "write"},
	})
	require.NoError(t, err)

	require.True(t, c.Check(types.OperationContext{Operation: types.OpRead, TargetPath: "docs/a"}).OK())
	require.True(t, c.Check(types.OperationContext{Operation: types.OpWrite, TargetPath: "src/a"}).OK())
	require.InDelta(t, (0.08+0.48)/2, c.AvgImpact(), 1e-9)
}
