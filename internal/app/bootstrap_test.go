package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApplicationWiresComponents(t *testing.T) {
	application, err := NewApplication(Options{
		DataPath:    t.TempDir(),
		ToolVersion: "test",
	})
	require.NoError(t, err)

	assert.NotNil(t, application.Skills)
	assert.NotNil(t, application.Creds)
	assert.NotNil(t, application.Engine)
	assert.NotNil(t, application.Refresher)
	assert.NotNil(t, application.Browse)
	assert.NotNil(t, application.Capture)
	assert.NotNil(t, application.Content)
	assert.NotEmpty(t, application.Config.SkillsDir)
}

func TestNewApplicationHonorsDataPath(t *testing.T) {
	dir := t.TempDir()
	application, err := NewApplication(Options{DataPath: dir, ToolVersion: "test"})
	require.NoError(t, err)
	assert.Contains(t, application.Config.SkillsDir, dir)
}
