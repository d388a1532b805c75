package run

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/DC-ET/sentry-feishu/server"
	"github.com/joho/godotenv"
)

// LoadConfig builds the configuration from, in increasing precedence, the
// defaults, the config file, the environment (including the env file) and
// the command line options.
func LoadConfig(options Options) (*server.Config, error) {
	if options.EnvFile != "" {
		if err := loadEnvFile(options.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file: %s", err)
		}
	}

	config, err := ParseConfig(FindConfigPath(options.ConfigPath))
	if err != nil {
		return nil, fmt.Errorf("parse config: %s", err)
	}

	// Apply any environment variables on top of the parsed config
	if err := config.ApplyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("apply env config: %v", err)
	}

	// Override config hostname if specified in the command line args.
	if options.Hostname != "" {
		config.Hostname = options.Hostname
	}
	// Override config logging file if specified in the command line args.
	if options.LogFile != "" {
		config.Logging.File = options.LogFile
	}
	// Override config logging level if specified in the command line args.
	if options.LogLevel != "" {
		config.Logging.Level = options.LogLevel
	}
	return config, nil
}

// envFileVars holds the variables set from an env file and their values.
var envFileVars = struct {
	mu   sync.Mutex
	vars map[string]string
}{vars: make(map[string]string)}

// loadEnvFile sets the variables of the env file at path.
// Variables set outside the env file win. Variables a previous load set
// follow the file, so a reload picks up edits and removals.
func loadEnvFile(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return err
	}

	envFileVars.mu.Lock()
	defer envFileVars.mu.Unlock()
	for k, prev := range envFileVars.vars {
		if _, ok := vars[k]; ok {
			continue
		}
		if cur, ok := os.LookupEnv(k); ok && cur == prev {
			os.Unsetenv(k)
		}
		delete(envFileVars.vars, k)
	}
	for k, v := range vars {
		if cur, ok := os.LookupEnv(k); ok {
			if prev, fromFile := envFileVars.vars[k]; !fromFile || cur != prev {
				continue
			}
		}
		if err := os.Setenv(k, v); err != nil {
			return err
		}
		envFileVars.vars[k] = v
	}
	return nil
}

// FindConfigPath returns the config path specified or searches for a valid config path.
// It will return a path by searching in this order:
//   1. The given configPath
//   2. The environment variable SENTRY_FEISHU_CONFIG_PATH
//   3. The first non empty sentry-feishu.conf file in the path:
//        - ~/.sentry-feishu/
//        - /etc/sentry-feishu/
func FindConfigPath(configPath string) string {
	if configPath != "" {
		if configPath == os.DevNull {
			return ""
		}
		return configPath
	} else if envVar := os.Getenv("SENTRY_FEISHU_CONFIG_PATH"); envVar != "" {
		return envVar
	}

	for _, path := range []string{
		os.ExpandEnv("${HOME}/.sentry-feishu/sentry-feishu.conf"),
		"/etc/sentry-feishu/sentry-feishu.conf",
	} {
		if fi, err := os.Stat(path); err == nil && fi.Size() != 0 {
			return path
		}
	}
	return ""
}

// ParseConfig parses the config at path over the defaults.
// Returns the default configuration if path is blank.
func ParseConfig(path string) (*server.Config, error) {
	config := server.NewConfig()
	if path == "" {
		return config, nil
	}
	md, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown configuration keys %v", undecoded)
	}
	return config, nil
}

// PrintConfig validates the configuration and writes it as TOML.
func PrintConfig(w io.Writer, options Options) error {
	config, err := LoadConfig(options)
	if err != nil {
		return err
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("%s. To generate a valid configuration file run `sentry-feishud config > sentry-feishu.generated.conf`.", err)
	}
	if err := toml.NewEncoder(w).Encode(config); err != nil {
		return err
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}
