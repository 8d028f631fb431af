package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(path), 0o755)
	require.NoError(t, err, "mkdir for config file")

	err = os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err, "write config file")
}

func Test_LoadConfig_Defaults_Apply_Without_Any_File(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := LoadConfig(LoadConfigInput{WorkDirOverride: dir, Env: map[string]string{}})
	require.NoError(t, err, "LoadConfig should succeed without config files")

	assert.Equal(t, ".formdb", cfg.DataDir)
	assert.Equal(t, "main", cfg.Space)
	assert.Equal(t, filepath.Join(dir, ".formdb"), cfg.DataDirAbs)
	assert.Empty(t, cfg.Sources.Global)
	assert.Empty(t, cfg.Sources.Project)
}

func Test_LoadConfig_Project_File_Overrides_Global(t *testing.T) {
	t.Parallel()

	home := t.TempDir()
	work := t.TempDir()

	writeConfigFile(t, filepath.Join(home, "formdb", "config.json"), `{
		// shared across projects
		"space": "global",
		"author": "alice",
	}`)
	writeConfigFile(t, filepath.Join(work, ConfigFileName), `{"space": "project"}`)

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: work,
		Env:             map[string]string{"XDG_CONFIG_HOME": home},
	})
	require.NoError(t, err, "LoadConfig should merge both files")

	assert.Equal(t, "project", cfg.Space, "project file wins over global")
	assert.Equal(t, "alice", cfg.Author, "global values survive when project is silent")
	assert.Equal(t, filepath.Join(home, "formdb", "config.json"), cfg.Sources.Global)
	assert.Equal(t, filepath.Join(work, ConfigFileName), cfg.Sources.Project)
}

func Test_LoadConfig_Cli_Overrides_Win_Over_Files(t *testing.T) {
	t.Parallel()

	work := t.TempDir()

	writeConfigFile(t, filepath.Join(work, ConfigFileName), `{"data_dir": "from-file", "space": "from-file"}`)

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: work,
		DataDirOverride: "from-flag",
		SpaceOverride:   "flagspace",
		Env:             map[string]string{},
	})
	require.NoError(t, err, "LoadConfig should apply CLI overrides")

	assert.Equal(t, "from-flag", cfg.DataDir)
	assert.Equal(t, "flagspace", cfg.Space)
	assert.Equal(t, filepath.Join(work, "from-flag"), cfg.DataDirAbs)
}

func Test_LoadConfig_Explicit_Config_Path_Must_Exist(t *testing.T) {
	t.Parallel()

	work := t.TempDir()

	_, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: work,
		ConfigPath:      "nope.json",
		Env:             map[string]string{},
	})
	require.ErrorIs(t, err, ErrConfigFileNotFound, "missing -c path should fail loudly")
}

func Test_LoadConfig_Rejects_Invalid_Jsonc(t *testing.T) {
	t.Parallel()

	work := t.TempDir()

	writeConfigFile(t, filepath.Join(work, ConfigFileName), `{"space": `)

	_, err := LoadConfig(LoadConfigInput{WorkDirOverride: work, Env: map[string]string{}})
	require.ErrorIs(t, err, ErrConfigInvalid, "truncated file should be rejected")
}

func Test_LoadConfig_Absolute_Data_Dir_Is_Kept(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	data := t.TempDir()

	cfg, err := LoadConfig(LoadConfigInput{
		WorkDirOverride: work,
		DataDirOverride: data,
		Env:             map[string]string{},
	})
	require.NoError(t, err)

	assert.Equal(t, data, cfg.DataDirAbs, "absolute data_dir should not be re-rooted")
	assert.Equal(t, filepath.Join(data, "spaces", "main"), cfg.SpaceDir())
}
