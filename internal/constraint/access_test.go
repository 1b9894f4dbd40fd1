package constraint

import (
	"testing"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestAccessPathLists(t *testing.T) {
	c, err := NewAccessConstraint(AccessConfig{
		AllowedPaths:    []string{"src/", "docs/"},
		RestrictedPaths: []string{"src/secrets/"},
	})
	require.NoError(t, err)

	cases := []struct {
		path string
		ok   bool
	}{
		{"src/app/main.go", true},
		{"docs/readme.md", true},
		{"src/secrets/key.pem", false}, // restricted wins over allowed
		{"etc/passwd", false},          // outside allow-list
	}
	for _, tc := range cases {
		r := c.Check(types.OperationContext{Operation: types.OpRead, TargetPath: tc.path})
		require.Equal(t, tc.ok, r.OK(), "path %q: %v", tc.path, r.Errors)
	}
}

func TestAccessGlobPatterns(t *testing.T) {
	c, err := NewAccessConstraint(AccessConfig{
		AllowedPaths:    []string{"src/**"},
		RestrictedPaths: []string{"src/**/*.pem"},
	})
	require.NoError(t, err)

	require.True(t, c.Check(types.OperationContext{Operation: types.OpRead, TargetPath: "src/a/b/c.go"}).OK())
	require.False(t, c.Check(types.OperationContext{Operation: types.OpRead, TargetPath: "src/a/tls/server.pem"}).OK())
}

func TestAccessPermissions(t *testing.T) {
	c, err := NewAccessConstraint(AccessConfig{
		AllowedPaths: []string{"src/"},
		RequiredPermissions: map[types.OperationType][]string{
			types.OpDelete: {"admin", "write"},
			types.OpWrite:  {"write"},
		},
	})
	require.NoError(t, err)

	op := types.OperationContext{Operation: types.OpDelete, TargetPath: "src/a.go", Permissions: []string{"write"}}
	require.False(t, c.Check(op).OK(), "missing admin permission")

	op.Permissions = []string{"write", "admin"}
	require.True(t, c.Check(op).OK())

	// Read has no permission requirement.
	require.True(t, c.Check(types.OperationContext{Operation: types.OpRead, TargetPath: "src/a.go"}).OK())
}

func TestAccessScopeRules(t *testing.T) {
	fileScope, err := NewAccessConstraint(AccessConfig{MaxScope: ScopeFile})
	require.NoError(t, err)
	require.True(t, fileScope.Check(types.OperationContext{TargetPath: "notes.txt"}).OK())
	require.False(t, fileScope.Check(types.OperationContext{TargetPath: "a/notes.txt"}).OK())

	dirScope, err := NewAccessConstraint(AccessConfig{MaxScope: ScopeDirectory})
	require.NoError(t, err)
	require.True(t, dirScope.Check(types.OperationContext{TargetPath: "a/notes.txt"}).OK())
	require.False(t, dirScope.Check(types.OperationContext{TargetPath: "../escape.txt"}).OK())
}

func TestAccessUnknownScopeRejected(t *testing.T) {
	_, err := NewAccessConstraint(AccessConfig{MaxScope: "galaxy"})
	require.Error(t, err)
	require.Equal(t, errdefs.KindConfig, errdefs.KindOf(err))
}

func TestAccessEnforceTypedError(t *testing.T) {
	c, err := NewAccessConstraint(AccessConfig{AllowedPaths: []string{"src/"}})
	require.NoError(t, err)

	enfErr := c.Enforce(types.OperationContext{Operation: types.OpRead, TargetPath: "etc/passwd"})
	require.True(t, errdefs.IsAccess(enfErr))
	require.Equal(t, "etc/passwd", func() string {
		var e *errdefs.Error
		require.ErrorAs(t, enfErr, &e)
		p, _ := e.Details["path"].(string)
		return p
	}())
}
