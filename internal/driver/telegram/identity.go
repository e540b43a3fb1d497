package telegram

import "ex-hermes/pkg/hermes"

const (
	// DriverType is the configured driver type token for the Telegram runtime.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform produced by the Telegram runtime.
	DriverPlatform hermes.Platform = hermes.PlatformTelegram
)
