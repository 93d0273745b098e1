package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and the resolved runtime settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.Print("portalx", GetVersion())

	logger.Info().
		Str("portal", config.Portal).
		Str("environment", config.Environment).
		Bool("headless", config.Browser.Headless).
		Str("session_store", config.Storage.Badger.Path).
		Msg("portalx starting")
}
