package config

import "github.com/tauraamui/texcapd/pkg/configdef"

type defaultSettingKey uint

const (
	BACKEND              defaultSettingKey = 0x0
	STATSINTERVALSECONDS defaultSettingKey = 0x1
	DEVICES              defaultSettingKey = 0x2
	TESTPATTERNS         defaultSettingKey = 0x3
)

var defaultSettings = map[defaultSettingKey]interface{}{
	BACKEND:              "software",
	STATSINTERVALSECONDS: 10,
	DEVICES: []configdef.Device{
		{Title: "Test Bars", Kind: configdef.KindPublisher, PublisherID: "texcapd-bars", PublisherName: "Test Bars"},
	},
	TESTPATTERNS: []configdef.TestPattern{
		{ID: "texcapd-bars", Name: "Test Bars", Width: 1280, Height: 720, FPS: 30},
	},
}
