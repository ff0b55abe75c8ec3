package version

import (
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func withBuildVars(t *testing.T, v, c, d string) {
	t.Helper()
	prevVersion, prevCommit, prevDate := version, commit, date
	version, commit, date = v, c, d
	t.Cleanup(func() { version, commit, date = prevVersion, prevCommit, prevDate })
}

func TestInfoMatchesGetters(t *testing.T) {
	v, c, d := Info()
	require.NotEmpty(t, v)
	require.NotEmpty(t, c)
	require.NotEmpty(t, d)
	require.Equal(t, GetVersion(), v)
	require.Equal(t, GetCommit(), c)
	require.Equal(t, GetDate(), d)
}

func TestString(t *testing.T) {
	withBuildVars(t, "v1.4.0", "9f2c1ab", "2026-09-30T10:00:00Z")

	require.Equal(t, "donation-reconciler version=v1.4.0 commit=9f2c1ab date=2026-09-30T10:00:00Z", String())
	require.True(t, strings.HasPrefix(String(), "donation-reconciler "))
}

func TestApplyBuildInfoFillsDefaults(t *testing.T) {
	withBuildVars(t, "dev", "unknown", "unknown")

	applyBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2026-10-01T08:00:00Z"},
			{Key: "vcs.modified", Value: "false"},
		},
	})

	v, c, d := Info()
	require.Equal(t, "v0.3.1", v)
	require.Equal(t, "abc123", c)
	require.Equal(t, "2026-10-01T08:00:00Z", d)
}

func TestApplyBuildInfoKeepsLdflags(t *testing.T) {
	withBuildVars(t, "v2.0.0", "release-sha", "2026-01-01")

	applyBuildInfo(&debug.BuildInfo{
		Main: debug.Module{Version: "v0.0.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "other-sha"},
			{Key: "vcs.time", Value: "2025-12-31"},
		},
	})

	v, c, d := Info()
	require.Equal(t, "v2.0.0", v)
	require.Equal(t, "release-sha", c)
	require.Equal(t, "2026-01-01", d)
}

func TestApplyBuildInfoIgnoresDevelVersion(t *testing.T) {
	withBuildVars(t, "dev", "unknown", "unknown")

	applyBuildInfo(&debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})

	v, c, d := Info()
	require.Equal(t, "dev", v)
	require.Equal(t, "unknown", c)
	require.Equal(t, "unknown", d)
}
