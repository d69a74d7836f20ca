package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tauraamui/texcapd/pkg/configdef"
	"github.com/tauraamui/texcapd/pkg/log"
)

type LoadConfigTestSuite struct {
	suite.Suite
	configResolver   configdef.Resolver
	fs               afero.Fs
	path             string
	configFile       afero.File
	restoreLogs      func()
	userConfigDirRef func() (string, error)
}

func (suite *LoadConfigTestSuite) SetupSuite() {
	suite.fs = afero.NewMemMapFs()
	suite.configResolver = DefaultResolver()
	suite.restoreLogs = log.Silence()

	// use in memory FS in implementation for tests
	fs = suite.fs
	suite.userConfigDirRef = userConfigDir
	userConfigDir = func() (string, error) { return "/home/tester/.config", nil }
	os.Unsetenv(configPathEnv)
}

func (suite *LoadConfigTestSuite) TearDownSuite() {
	fs = afero.NewOsFs()
	userConfigDir = suite.userConfigDirRef
	suite.restoreLogs()
}

func (suite *LoadConfigTestSuite) SetupTest() {
	path, err := resolveConfigPath()
	require.NoError(suite.T(), err)
	require.NoError(suite.T(), suite.fs.MkdirAll(filepath.Dir(path), os.ModeDir|os.ModePerm))
	suite.path = path

	configFile, err := suite.fs.Create(path)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), configFile)

	suite.configFile = configFile

	// can be overridden this so reset it back before
	// each test to ensure that it's an opt in thing per
	// individual test
	suite.overwriteTestConfig(
		`{
			"debug": true,
			"backend": "opencv",
			"stats_interval_seconds": 19,
			"devices": []
		}`,
	)
}

func (suite *LoadConfigTestSuite) overwriteTestConfig(config string) {
	require.NoError(suite.T(), suite.configFile.Truncate(0))
	_, err := suite.configFile.Seek(0, 0)
	require.NoError(suite.T(), err)
	_, err = suite.configFile.WriteString(config)
	assert.NoError(suite.T(), err)
}

func (suite *LoadConfigTestSuite) TearDownTest() {
	require.NoError(suite.T(), suite.configFile.Close())
	suite.fs.Remove(suite.path)
}

func (suite *LoadConfigTestSuite) TestResolveConfigPathUsesUserConfigDir() {
	assert.Equal(suite.T(), "/home/tester/.config/tacusci/texcapd/config.json", suite.path)
}

func (suite *LoadConfigTestSuite) TestLoadConfig() {
	config, err := suite.configResolver.Resolve()
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), config)

	assert.Equal(suite.T(), true, config.Debug)
	assert.Equal(suite.T(), "opencv", config.Backend)
	assert.Equal(suite.T(), 19, config.StatsIntervalSeconds)
	assert.ElementsMatch(suite.T(), config.Devices, []configdef.Device{})
}

func (suite *LoadConfigTestSuite) TestLoadConfigAppliesDefaults() {
	suite.overwriteTestConfig(
		`{"test_patterns": [
			{"id": "bars", "width": 64, "height": 32, "fps": 5}
		]}`,
	)

	config, err := suite.configResolver.Resolve()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "software", config.Backend)
	require.Len(suite.T(), config.TestPatterns, 1)
	assert.Equal(suite.T(), "bars", config.TestPatterns[0].Name)
}

func (suite *LoadConfigTestSuite) TestConfigLoadFailsValidationOnDupDeviceTitles() {
	suite.overwriteTestConfig(
		`{"devices": [
			{"title": "FakeCam1", "kind": "screen"},
			{"title": "FakeCam2", "kind": "screen"},
			{"title": "FakeCam1", "kind": "screen"}
		]}`,
	)

	config, err := suite.configResolver.Resolve()
	require.Error(suite.T(), err)
	require.Empty(suite.T(), config)

	assert.EqualError(suite.T(), err, "validation failed: device titles must be unique")
}

func (suite *LoadConfigTestSuite) TestConfigLoadFailsOnMalformedJSON() {
	suite.overwriteTestConfig(`{"devices": [`)

	_, err := suite.configResolver.Resolve()
	require.Error(suite.T(), err)
	assert.Contains(suite.T(), err.Error(), "parsing configuration error")
}

func (suite *LoadConfigTestSuite) TestConfigLoadFromEnvPath() {
	os.Setenv(configPathEnv, "/etc/texcapd.json")
	defer os.Unsetenv(configPathEnv)
	require.NoError(suite.T(), afero.WriteFile(suite.fs, "/etc/texcapd.json", []byte(`{"stats_interval_seconds": 3}`), 0644))

	config, err := suite.configResolver.Resolve()
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 3, config.StatsIntervalSeconds)
}

func TestLoadConfigTestSuite(t *testing.T) {
	suite.Run(t, &LoadConfigTestSuite{})
}
