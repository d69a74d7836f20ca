package process

import (
	"context"
	"errors"

	"github.com/tauraamui/texcapd/pkg/capture"
	"github.com/tauraamui/texcapd/pkg/log"
)

// CaptureDevice starts dev and keeps it capturing until cancelled.
func CaptureDevice(dev capture.Device) func(cancel context.Context) []chan interface{} {
	return func(cancel context.Context) []chan interface{} {
		var stopSignals []chan interface{}
		if err := dev.Start(); err != nil {
			if errors.Is(err, capture.ErrConnect) {
				log.Warn("Device [%s] waiting for its publisher: %v", dev.Title(), err)
			} else {
				log.Error("Unable to start device [%s]: %v", dev.Title(), err)
			}
		}

		stopping := make(chan interface{})
		go func(cancel context.Context, dev capture.Device, stopping chan interface{}) {
			<-cancel.Done()
			if err := dev.Stop(); err != nil {
				log.Error("Unable to stop device [%s]: %v", dev.Title(), err)
			}
			close(stopping)
		}(cancel, dev, stopping)
		stopSignals = append(stopSignals, stopping)
		return stopSignals
	}
}
