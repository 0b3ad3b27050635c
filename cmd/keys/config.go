package keys

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment    string `envconfig:"KEYS_ENVIRONMENT" default:"production"`
	ValidateOnSave bool   `envconfig:"KEYS_VALIDATE_ON_SAVE" default:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
