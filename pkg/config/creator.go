package config

import (
	"github.com/tauraamui/texcapd/internal/config"
	"github.com/tauraamui/texcapd/pkg/configdef"
)

type Creator interface {
	configdef.Creator
}

func DefaultCreator() Creator {
	return config.DefaultCreator()
}
