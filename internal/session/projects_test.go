package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectsTouchListRemove(t *testing.T) {
	stateDir := t.TempDir()
	p, err := LoadProjects(stateDir)
	require.NoError(t, err)
	assert.Empty(t, p.List())

	require.NoError(t, p.Touch("/home/dev/alpha", false, ""))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, p.Touch("/home/dev/beta", false, ""))

	list := p.List()
	require.Len(t, list, 2)
	assert.Equal(t, "/home/dev/beta", list[0].Path, "newest first")
	assert.Equal(t, "beta", list[0].Name)

	// Touching again refreshes rather than duplicating.
	require.NoError(t, p.Touch("/home/dev/alpha", false, ""))
	list = p.List()
	require.Len(t, list, 2)
	assert.Equal(t, "/home/dev/alpha", list[0].Path)

	require.NoError(t, p.Remove("/home/dev/beta"))
	list = p.List()
	require.Len(t, list, 1)
	assert.Equal(t, "/home/dev/alpha", list[0].Path)
}

func TestProjectsPersistAcrossLoads(t *testing.T) {
	stateDir := t.TempDir()
	p, err := LoadProjects(stateDir)
	require.NoError(t, err)
	require.NoError(t, p.Touch("dev@box:22:/srv/app", true, "dev@box:22"))

	reloaded, err := LoadProjects(stateDir)
	require.NoError(t, err)
	list := reloaded.List()
	require.Len(t, list, 1)
	assert.Equal(t, "dev@box:22:/srv/app", list[0].Path)
	assert.True(t, list[0].IsSSH)
	assert.Equal(t, "dev@box:22", list[0].SSHInfo)
}
