package texcap

import (
	"fmt"
	"sync"
	"time"

	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/texcap/process"
)

func (s *Server) SetupProcesses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patterns {
		proc := process.New(process.Settings{
			WaitForShutdownMsg: fmt.Sprintf("Retiring test pattern [%s]...", p.Identity()),
			Process:            process.PublishTestPattern(p),
		}).Setup()
		s.processes = append(s.processes, proc)
	}

	for _, dev := range s.devices {
		proc := process.New(process.Settings{
			WaitForShutdownMsg: fmt.Sprintf("Stopping capture from device [%s]...", dev.Title()),
			Process:            process.CaptureDevice(dev),
		}).Setup()
		s.processes = append(s.processes, proc)
	}

	if s.config.StatsIntervalSeconds > 0 && len(s.devices) > 0 {
		interval := time.Duration(s.config.StatsIntervalSeconds) * time.Second
		proc := process.New(process.Settings{
			Process: process.ReportStats(append(s.devices[:0:0], s.devices...), interval),
		}).Setup()
		s.processes = append(s.processes, proc)
	}
}

func (s *Server) RunProcesses() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, proc := range s.processes {
		proc.Start()
	}
}

func (s *Server) shutdownProcesses() {
	s.mu.Lock()
	procs := s.processes
	s.processes = nil
	s.mu.Unlock()

	wg := sync.WaitGroup{}
	wg.Add(len(procs))
	for _, proc := range procs {
		go func(wg *sync.WaitGroup, proc process.Process) {
			proc.Stop()
			proc.Wait()
			wg.Done()
		}(&wg, proc)
	}
	wg.Wait()
}

// Shutdown stops every process and releases devices in the background,
// closing the returned channel once done.
func (s *Server) Shutdown() chan interface{} {
	s.shutdownOnce.Do(func() { go s.shutdown() })
	return s.shutdownDone
}

func (s *Server) shutdown() {
	s.shutdownProcesses()
	s.mu.Lock()
	for _, dev := range s.devices {
		log.Warn("Closing device: [%s]...", dev.Title())
		if err := dev.Stop(); err != nil {
			log.Error("Unable to stop device [%s]: %v", dev.Title(), err)
		}
	}
	for _, p := range s.patterns {
		p.Retire()
	}
	s.mu.Unlock()
	close(s.shutdownDone)
}
