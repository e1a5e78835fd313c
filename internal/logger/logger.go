package logger

import (
	"go.uber.org/zap"
)

// New builds a production zap logger at the given verbosity. Output goes to
// stderr unless outputPaths are given.
func New(verbosity string, outputPaths ...string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	config.Level = level
	if len(outputPaths) > 0 {
		config.OutputPaths = outputPaths
	}
	return config.Build()
}
