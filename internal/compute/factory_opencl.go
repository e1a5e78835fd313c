//go:build opencl

package compute

import "go.uber.org/zap"

// NewAPI returns the OpenCL binding.
func NewAPI(logger *zap.Logger) (API, error) {
	logger.Info("Using OpenCL compute API")
	return &OpenCL{}, nil
}
