package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ServeHTTP off runs the engine loops without the inbound API
	ServeHTTP bool `envconfig:"SERVE_HTTP" default:"true"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
