package util

import (
	"go.uber.org/zap"
)

// NewLogger builds the process logger. Debug mode switches to the
// human readable development encoder.
func NewLogger(conf *AppConfig) (*zap.Logger, error) {
	if conf != nil && conf.Conf.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
