package process

import (
	"context"

	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher/testpattern"
)

// PublishTestPattern runs p until cancelled, retiring it on the way out.
func PublishTestPattern(p *testpattern.Pattern) func(cancel context.Context) []chan interface{} {
	return func(cancel context.Context) []chan interface{} {
		var stopSignals []chan interface{}
		log.Info("Publishing test pattern [%s] at %d fps", p.Identity(), p.FPS())
		stopping := make(chan interface{})
		go func(cancel context.Context, p *testpattern.Pattern, stopping chan interface{}) {
			p.Run(cancel)
			close(stopping)
		}(cancel, p, stopping)
		stopSignals = append(stopSignals, stopping)
		return stopSignals
	}
}
