package config

import (
	"github.com/tauraamui/texcapd/internal/config"
	"github.com/tauraamui/texcapd/pkg/configdef"
)

type Destroyer interface {
	configdef.Destroyer
}

func DefaultDestroyer() Destroyer {
	return config.DefaultDestroyer()
}
