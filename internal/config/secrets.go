package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = cloneStrings(cfg.Notify.Events)
	out.Server.CORSOrigins = cloneStrings(cfg.Server.CORSOrigins)
	out.Discovery.Cities = cloneStrings(cfg.Discovery.Cities)
	if cfg.Cities.Regions != nil {
		out.Cities.Regions = make(map[string]string, len(cfg.Cities.Regions))
		for k, v := range cfg.Cities.Regions {
			out.Cities.Regions[k] = v
		}
	}
	if cfg.Cities.UTCOffsets != nil {
		out.Cities.UTCOffsets = make(map[string]int, len(cfg.Cities.UTCOffsets))
		for k, v := range cfg.Cities.UTCOffsets {
			out.Cities.UTCOffsets[k] = v
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

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
