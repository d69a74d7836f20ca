package config

import (
	"github.com/tauraamui/texcapd/internal/config"
	"github.com/tauraamui/texcapd/pkg/configdef"
)

type Resolver interface {
	configdef.Resolver
}

func DefaultResolver() Resolver {
	return config.DefaultResolver()
}
