package config

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/subosito/gotenv"
)

// DotEnvTryLoad forcefully overrides ENV variables through the given file,
// if it exists. A missing file is silently ignored.
func DotEnvTryLoad(absolutePathToEnvFile string, setEnvFn func(key string, value string) error) {
	f, err := os.Open(absolutePathToEnvFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("envFile", absolutePathToEnvFile).Msg(".env file could not be opened")
		}
		return
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		log.Error().Err(err).Str("envFile", absolutePathToEnvFile).Msg(".env parse error!")
		return
	}

	for key, value := range env {
		if err := setEnvFn(key, value); err != nil {
			log.Error().Err(err).Str("envFile", absolutePathToEnvFile).Str("key", key).Msg("Failed to set ENV variable from .env file")
		}
	}

	log.Info().Str("envFile", absolutePathToEnvFile).Int("count", len(env)).Msg(".env overrides ENV variables")
}
