package process

import (
	"context"
	"time"

	"github.com/tauraamui/texcapd/pkg/capture"
	"github.com/tauraamui/texcapd/pkg/log"
)

// ReportStats logs each device's geometry and frame rate every interval.
func ReportStats(devices []capture.Device, interval time.Duration) func(cancel context.Context) []chan interface{} {
	return func(cancel context.Context) []chan interface{} {
		var stopSignals []chan interface{}
		stopping := make(chan interface{})
		go func(cancel context.Context, stopping chan interface{}) {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
		procLoop:
			for {
				select {
				case <-cancel.Done():
					close(stopping)
					break procLoop
				case <-ticker.C:
					report(devices)
				}
			}
		}(cancel, stopping)
		stopSignals = append(stopSignals, stopping)
		return stopSignals
	}
}

func report(devices []capture.Device) {
	for _, dev := range devices {
		g := dev.CurrentGeometry()
		if !g.Valid() {
			log.Info("Device [%s]: no frames yet", dev.Title())
			continue
		}
		log.Info("Device [%s]: %s @ %.1f fps", dev.Title(), g, dev.CurrentFPS())
	}
}
