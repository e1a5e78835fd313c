//go:build !opencl

package compute

import "go.uber.org/zap"

// NewAPI reports ErrUnavailable: this binary was compiled without OpenCL
// support. Use a Simulator instead.
func NewAPI(logger *zap.Logger) (API, error) {
	logger.Info("compiled without OpenCL support")
	return nil, ErrUnavailable
}
