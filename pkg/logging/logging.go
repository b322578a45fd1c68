package logging

import (
	"go.uber.org/zap"
)

type Environment string

const (
	DevelopmentEnvironment Environment = "development"
	ProductionEnvironment  Environment = "production"
)

// NewLogger creates the service logger, a development logger unless running
// in production.
func NewLogger(environment Environment, service string) (*zap.Logger, error) {
	var config zap.Config

	switch environment {
	case ProductionEnvironment:
		config = zap.NewProductionConfig()
	default:
		config = zap.NewDevelopmentConfig()
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.With(zap.String("service", service)), nil
}
