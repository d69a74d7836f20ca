package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/takama/daemon"
	"github.com/tauraamui/texcapd/pkg/config"
	"github.com/tauraamui/texcapd/pkg/configdef"
	"github.com/tauraamui/texcapd/pkg/log"
	"github.com/tauraamui/texcapd/pkg/publisher"
	"github.com/tauraamui/texcapd/pkg/texcap"
)

type Service struct {
	daemon.Daemon
	resolver  configdef.Resolver
	creator   configdef.Creator
	destroyer configdef.Destroyer
}

type command struct {
	help string
	run  func(*Service) (string, error)
}

var commands = map[string]command{
	"setup":        {"write a default config file", (*Service).Setup},
	"remove-setup": {"delete the config file", (*Service).RemoveSetup},
	"check-config": {"load and validate the config file, then list its devices", (*Service).CheckConfig},
	"install":      {"install the system service", func(s *Service) (string, error) { return s.Install() }},
	"remove":       {"remove the system service", func(s *Service) (string, error) { return s.Remove() }},
	"start":        {"start the system service", func(s *Service) (string, error) { return s.Start() }},
	"stop":         {"stop the system service", func(s *Service) (string, error) { return s.Stop() }},
	"status":       {"report the system service status", func(s *Service) (string, error) { return s.Status() }},
}

func usage() string {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "Usage: %s [command]\n\nWith no command, captures in the foreground until interrupted.\n\nCommands:\n", name)
	for _, n := range names {
		fmt.Fprintf(&b, "  %-14s %s\n", n, commands[n].help)
	}
	fmt.Fprintf(&b, "\nEnvironment:\n")
	fmt.Fprintf(&b, "  %-22s config file path, defaults to the user config dir\n", "TEXCAPD_CONFIG")
	fmt.Fprintf(&b, "  %-22s silent, warn, info or debug\n", loggingLevelEnv)
	fmt.Fprintf(&b, "  %-22s system, global or user\n", daemonKindEnv)
	return b.String()
}

func (service *Service) configResolver() configdef.Resolver {
	if service.resolver == nil {
		return config.DefaultResolver()
	}
	return service.resolver
}

func (service *Service) Setup() (string, error) {
	log.Info("Setting up %s service...", name)
	creator := service.creator
	if creator == nil {
		creator = config.DefaultCreator()
	}

	if err := creator.Create(); err != nil {
		if !errors.Is(err, configdef.ErrConfigAlreadyExists) {
			return "", err
		}
		log.Error(err.Error())
	}
	return "Setup successful...", nil
}

func (service *Service) RemoveSetup() (string, error) {
	log.Info("Removing setup for %s service...", name)
	destroyer := service.destroyer
	if destroyer == nil {
		destroyer = config.DefaultDestroyer()
	}

	if err := destroyer.Destroy(); err != nil {
		log.Error("unable to delete config file: %s", err.Error())
	}
	return "Removing setup successful...", nil
}

func (service *Service) CheckConfig() (string, error) {
	values, err := service.configResolver().Resolve()
	if err != nil {
		return "", err
	}

	backend := values.Backend
	var b strings.Builder
	fmt.Fprintf(&b, "Config OK, backend: %s\n", backend)
	for _, dev := range values.Devices {
		state := "enabled"
		if dev.Disabled {
			state = "disabled"
		}
		switch dev.Kind {
		case configdef.KindPublisher:
			fmt.Fprintf(&b, "  [%s] publisher %s (%s), %s\n", dev.Title, dev.PublisherID, dev.PublisherName, state)
		default:
			fmt.Fprintf(&b, "  [%s] %s, %s\n", dev.Title, dev.Kind, state)
		}
	}
	for _, p := range values.TestPatterns {
		fmt.Fprintf(&b, "  test pattern [%s] %dx%d @ %d fps\n", p.ID, p.Width, p.Height, p.FPS)
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

// Manage runs the named command, or captures in the foreground until
// SIGINT/SIGTERM when no command is given.
func (service *Service) Manage(args []string) (string, error) {
	if len(args) > 0 {
		cmd, ok := commands[args[0]]
		if !ok {
			return usage(), nil
		}
		return cmd.run(service)
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	return service.runForeground(interrupt)
}

func (service *Service) runForeground(interrupt <-chan os.Signal) (string, error) {
	log.Info("Starting %s...", name)
	server, err := texcap.NewServer(service.configResolver(), publisher.NewLocalDirectory())
	if err != nil {
		return "", err
	}

	ctx, cancelStartup := context.WithCancel(context.Background())
	go startupServer(ctx, server)

	killSignal := <-interrupt
	fmt.Print("\r")
	log.Warn("Received signal: %s", killSignal)

	cancelStartup()
	log.Info("Shutting down server...")
	<-server.Shutdown()

	return "Shutdown successful... BYE! 👋", nil
}

func startupServer(ctx context.Context, server *texcap.Server) {
	for _, err := range server.ConnectWithCancel(ctx) {
		log.Error(err.Error())
	}
	server.SetupProcesses()
	server.RunProcesses()
}
