package config

import (
	"github.com/tauraamui/texcapd/internal/config"
	"github.com/tauraamui/texcapd/pkg/configdef"
)

type CreateResolver interface {
	configdef.CreateResolver
}

func DefaultCreateResolver() CreateResolver {
	return config.DefaultCreateResolver()
}
