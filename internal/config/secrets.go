package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.URL)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// API keys are the map keys; keep only a short prefix so operators can
	// still tell them apart.
	if cfg.Server.APIKeys != nil {
		out.Server.APIKeys = make(map[string]string, len(cfg.Server.APIKeys))
		for k, app := range cfg.Server.APIKeys {
			out.Server.APIKeys[keyPrefix(k)+redacted] = app
		}
	}

	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Indexing.CommunityMethods != nil {
		out.Indexing.CommunityMethods = make(map[string]string, len(cfg.Indexing.CommunityMethods))
		for k, v := range cfg.Indexing.CommunityMethods {
			out.Indexing.CommunityMethods[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func keyPrefix(k string) string {
	if len(k) <= 4 {
		return ""
	}
	return k[:4]
}
