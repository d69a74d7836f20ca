package screen_test

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tauraamui/texcapd/pkg/capture"
	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/mocks"
	"github.com/tauraamui/texcapd/pkg/screen"
)

type ScreenDeviceTestSuite struct {
	suite.Suite
	restoreLogs func()
	restoreGrab func()
	mu          sync.Mutex
	size        image.Point
	grabErr     error
	grabs       int
	dev         *mocks.Device
}

func (suite *ScreenDeviceTestSuite) SetupSuite() {
	suite.restoreLogs = log.Silence()
	suite.restoreGrab = screen.OverloadGrab(suite.grab)
}

func (suite *ScreenDeviceTestSuite) TearDownSuite() {
	suite.restoreGrab()
	suite.restoreLogs()
}

func (suite *ScreenDeviceTestSuite) SetupTest() {
	suite.setScreen(image.Pt(1440, 900), nil)
	suite.mu.Lock()
	suite.grabs = 0
	suite.mu.Unlock()
	suite.dev = mocks.NewDevice()
}

func (suite *ScreenDeviceTestSuite) setScreen(size image.Point, err error) {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.size = size
	suite.grabErr = err
}

func (suite *ScreenDeviceTestSuite) grab() (*image.RGBA, error) {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	suite.grabs++
	if suite.grabErr != nil {
		return nil, suite.grabErr
	}
	return image.NewRGBA(image.Rectangle{Max: suite.size}), nil
}

func (suite *ScreenDeviceTestSuite) grabCount() int {
	suite.mu.Lock()
	defer suite.mu.Unlock()
	return suite.grabs
}

func TestScreenDeviceTestSuite(t *testing.T) {
	suite.Run(t, &ScreenDeviceTestSuite{})
}

func (suite *ScreenDeviceTestSuite) TestCaptureNormalizesScreenImage() {
	is := is.New(suite.T())
	d := screen.New(suite.dev, screen.Settings{Title: "Desktop"})

	is.NoErr(d.Capture())
	is.Equal(d.CurrentGeometry(), gpu.Geometry{Width: 1440, Height: 900})

	frame := d.LatestFrame()
	is.True(frame != nil)
	is.Equal(frame.Geometry(), gpu.Geometry{Width: 1440, Height: 900})
	frame.Release()
	is.Equal(d.Title(), "Desktop")
	is.True(!d.NeedsAdvancedProcessing())
}

func (suite *ScreenDeviceTestSuite) TestResolutionChangeRebuildsCache() {
	d := screen.New(suite.dev, screen.Settings{})

	require.NoError(suite.T(), d.Capture())
	require.NoError(suite.T(), d.Capture())
	suite.setScreen(image.Pt(2560, 1440), nil)
	require.NoError(suite.T(), d.Capture())

	assert.Equal(suite.T(), 1, suite.dev.Count("pool.new 1440x900"))
	assert.Equal(suite.T(), 1, suite.dev.Count("pool.release 1440x900"))
	assert.Equal(suite.T(), 1, suite.dev.Count("pool.new 2560x1440"))
}

func (suite *ScreenDeviceTestSuite) TestGrabFailureKeepsPreviousFrame() {
	d := screen.New(suite.dev, screen.Settings{})
	require.NoError(suite.T(), d.Capture())

	suite.setScreen(image.Pt(1440, 900), errors.New("display asleep"))
	assert.Error(suite.T(), d.Capture())
	assert.Equal(suite.T(), gpu.Geometry{Width: 1440, Height: 900}, d.CurrentGeometry())
}

func (suite *ScreenDeviceTestSuite) TestStartPollsUntilStoppedAndReleasesResources() {
	d := screen.New(suite.dev, screen.Settings{FPS: 200})

	require.NoError(suite.T(), d.Start())
	err := d.Start()
	assert.True(suite.T(), errors.Is(err, capture.ErrAlreadyStarted))

	require.Eventually(suite.T(), func() bool { return suite.grabCount() >= 3 }, 3*time.Second, time.Millisecond)
	require.NoError(suite.T(), d.Stop())
	require.NoError(suite.T(), d.Stop())

	grabs := suite.grabCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(suite.T(), grabs, suite.grabCount())
	assert.Equal(suite.T(), 0, suite.dev.Stats().Live())
	assert.Nil(suite.T(), d.LatestFrame())
}

func (suite *ScreenDeviceTestSuite) TestAllocationFailureEndsPollingAndReleasesResources() {
	d := screen.New(suite.dev, screen.Settings{FPS: 200})
	suite.dev.FailAllocations(false, true)

	require.NoError(suite.T(), d.Start())
	require.Eventually(suite.T(), func() bool { return suite.grabCount() >= 1 }, 3*time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(suite.T(), 1, suite.grabCount())
	assert.Equal(suite.T(), 0, suite.dev.Stats().Live())
	assert.Nil(suite.T(), d.LatestFrame())

	// polling ended on its own, so Start works again without a Stop
	suite.dev.FailAllocations(false, false)
	require.NoError(suite.T(), d.Start())
	require.Eventually(suite.T(), func() bool { return d.CurrentGeometry() == gpu.Geometry{Width: 1440, Height: 900} }, 3*time.Second, time.Millisecond)
	require.NoError(suite.T(), d.Stop())
	assert.Equal(suite.T(), 0, suite.dev.Stats().Live())
}
