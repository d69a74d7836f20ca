package main

import (
	"os"
	"runtime"
	"strings"

	"github.com/tacusci/logging/v2"
	"github.com/takama/daemon"
	"github.com/tauraamui/texcapd/pkg/log"
	"golang.org/x/term"
)

const (
	name        = "texcapd"
	description = "Texture capture daemon which keeps the latest frame of published GPU texture streams"

	loggingLevelEnv = "TEXCAPD_LOGGING_LEVEL"
	daemonKindEnv   = "TEXCAPD_DAEMON_KIND"
)

// daemonKind picks a system daemon unless overridden by env, except on
// darwin where capture needs the logged in user's session.
func daemonKind(goos, override string) daemon.Kind {
	switch strings.ToLower(override) {
	case "user":
		return daemon.UserAgent
	case "global":
		return daemon.GlobalAgent
	case "system":
		return daemon.SystemDaemon
	}
	if goos == "darwin" {
		return daemon.UserAgent
	}
	return daemon.SystemDaemon
}

func init() {
	logging.CallbackLabelLevel = 5
	logging.ColorLogLevelLabelOnly = term.IsTerminal(int(os.Stdout.Fd()))
	log.SetLevel(os.Getenv(loggingLevelEnv))
}

func main() {
	srv, err := daemon.New(name, description, daemonKind(runtime.GOOS, os.Getenv(daemonKindEnv)))
	if err != nil {
		logging.Error(err.Error()) //nolint
		os.Exit(1)
	}

	service := &Service{Daemon: srv}
	status, err := service.Manage(os.Args[1:])
	if err != nil {
		logging.Error(err.Error()) //nolint
		os.Exit(1)
	}

	logging.Info(status) //nolint
}
