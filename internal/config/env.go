package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes the environment variable of every flag, so -mgmt-port
// becomes MUX_MGMT_MGMT_PORT.
const EnvPrefix = "MUX_MGMT_"

// EnvName returns the environment variable for a flag name.
func EnvName(flagName string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// applyEnv sets every flag not given on the command line from the process
// environment, then from envFile if one is named. Command-line flags win
// over the environment, which wins over the file.
func applyEnv(fs *flag.FlagSet, envFile string, lookup func(string) (string, bool)) error {
	var file map[string]string
	if envFile != "" {
		var err error
		file, err = godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	var errs []string
	fs.VisitAll(func(f *flag.Flag) {
		if explicit[f.Name] {
			return
		}
		name := EnvName(f.Name)
		value, ok := lookup(name)
		if !ok {
			value, ok = file[name]
		}
		if !ok {
			return
		}
		if err := fs.Set(f.Name, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s=%q: %v", name, value, err))
		}
	})

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return nil
}

// lookupEnv is replaced in tests.
var lookupEnv = os.LookupEnv
