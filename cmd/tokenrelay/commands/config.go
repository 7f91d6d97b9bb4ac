package commands

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v3"

	"github.com/florianilch/tokenrelay/internal/app"
)

// envPrefix is stripped from environment variables during config loading (e.g., TOKENRELAY_SERVER__HOST → server.host)
const envPrefix = "TOKENRELAY_"

// loadConfig loads and validates the application configuration.
func loadConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	config, err := readConfig(configPath, cmd, environFunc)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// loadAuthConfig loads the configuration but only validates the credential
// storage settings, so auth commands work without a relay configuration.
func loadAuthConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.AuthConfig, error) {
	config, err := readConfig(configPath, cmd, environFunc)
	if err != nil {
		return nil, err
	}

	if err := config.Auth.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}

	return &config.Auth, nil
}

// nonConfigFlags are command flags that do not map onto app.Config.
var nonConfigFlags = map[string]bool{
	"config":     true,
	"session-id": true,
}

// readConfig merges configuration sources, later ones winning:
// defaults, config file, TOKENRELAY_* environment, CLI flags.
func readConfig(configPath string, cmd *cli.Command, environFunc func() []string) (*app.Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return envKey(key), value
		},
		EnvironFunc: environFunc,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	if cmd != nil {
		if err := k.Load(confmap.Provider(flagValues(cmd), "."), nil); err != nil {
			return nil, fmt.Errorf("loading CLI flags: %w", err)
		}
	}

	config := &app.Config{}
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := config.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	return config, nil
}

// envKey maps TOKENRELAY_REFRESH__CLIENT_ID to refresh.client_id.
func envKey(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(name, envPrefix), "__", "."))
}

// flagKey maps --refresh--client-id to refresh.client_id.
func flagKey(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "--", "."), "-", "_")
}

// flagValues collects explicitly set flags, including those of parent
// commands, keyed by their config path. Unset flags are skipped so their
// defaults never shadow file or environment values.
func flagValues(cmd *cli.Command) map[string]any {
	values := make(map[string]any)
	for _, name := range cmd.FlagNames() {
		if nonConfigFlags[name] || !cmd.IsSet(name) {
			continue
		}
		if value := cmd.Value(name); value != nil {
			values[flagKey(name)] = value
		}
	}
	return values
}
