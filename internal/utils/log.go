package utils

import (
	"os"

	"github.com/rs/zerolog"
)

// Log is the package-level logger used throughout the controller. It is
// configured once at process start by SetLogger.
var Log zerolog.Logger

// SetLogger configures Log as a console writer at info level, raised to
// debug if either the kernel cmdline carries "rd.rugix.debug" or the
// RUGIX_DEBUG environment variable is set.
func SetLogger() {
	level := zerolog.InfoLevel

	debugFromCmdline := len(ReadCMDLineArg("rd.rugix.debug")) > 0
	debugFromEnv := os.Getenv("RUGIX_DEBUG") != ""
	if debugFromCmdline || debugFromEnv {
		level = zerolog.DebugLevel
	}

	Log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: false}).
		Level(level).
		With().Timestamp().Logger()
}
