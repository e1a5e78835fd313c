package fixtures

import (
	_ "embed"
)

//go:embed config/config.yaml.template
var ConfigTemplate []byte

//go:embed simulation/simulation.yaml
var SimulationTopology []byte

//go:embed kernels/square.cl
var SquareKernel []byte
