package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Environment overrides. Secrets are usually kept out of the config file and
// supplied through the environment (or a .env file loaded by the CLI).
const (
	EnvTelegramToken  = "NUDGEBOT_TELEGRAM_TOKEN"
	EnvTelegramChatID = "NUDGEBOT_TELEGRAM_CHAT_ID"
	EnvStoragePath    = "NUDGEBOT_STORAGE_PATH"
)

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		return nil
	}
	if v, ok := lookup(EnvTelegramToken); ok && strings.TrimSpace(v) != "" {
		cfg.Delivery.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvTelegramChatID); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q: %w", EnvTelegramChatID, v, err)
		}
		cfg.Delivery.Telegram.ChatID = id
	}
	if v, ok := lookup(EnvStoragePath); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.Path = strings.TrimSpace(v)
	}
	return nil
}
