package models

// Connector is a directed edge from a process output to a process input
// within one protocol.
type Connector struct {
	FromProcess string `json:"from_process" validate:"required"`
	FromPort    string `json:"from_port"    validate:"required"`
	ToProcess   string `json:"to_process"   validate:"required"`
	ToPort      string `json:"to_port"      validate:"required"`
}

// ID identifies the connector inside its protocol.
func (c *Connector) ID() string {
	return MakePortID(c.FromProcess, c.FromPort) + "->" + MakePortID(c.ToProcess, c.ToPort)
}

// IOFace exposes an inner port at the boundary of its parent protocol.
// For an interface, Name is the outer input and Process/Port the inner input.
// For an outerface, Process/Port is the inner output and Name the outer output.
type IOFace struct {
	Name    string `json:"name"    validate:"required"`
	Process string `json:"process" validate:"required"`
	Port    string `json:"port"    validate:"required"`
}
