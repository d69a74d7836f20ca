package backend

import (
	"strings"

	"github.com/tauraamui/texcapd/pkg/gpu"
	"github.com/tauraamui/texcapd/pkg/gpu/cvgpu"
	"github.com/tauraamui/texcapd/pkg/gpu/softgpu"
)

func Default() gpu.Device {
	return Software()
}

func Software() gpu.Device {
	return softgpu.New()
}

func OpenCV() gpu.Device {
	return cvgpu.New()
}

func Resolve(t string) gpu.Device {
	switch strings.ToLower(t) {
	case "opencv":
		return OpenCV()
	default:
		return Default()
	}
}
