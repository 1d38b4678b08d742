package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textTask(name string) *ProcessModel {
	return NewTaskModel(name, "test.text",
		[]PortSpec{{Name: "in", ResourceTypes: []string{"text"}}},
		[]PortSpec{{Name: "out", ResourceTypes: []string{"text"}}},
		nil,
	)
}

func chain(t *testing.T, names ...string) *ProcessModel {
	t.Helper()

	root := NewProtocolModel("root")
	for _, name := range names {
		require.NoError(t, root.Protocol.AddProcess(textTask(name)))
	}

	for i := 1; i < len(names); i++ {
		require.NoError(t, root.Protocol.AddConnector(&Connector{
			FromProcess: names[i-1], FromPort: "out", ToProcess: names[i], ToPort: "in",
		}))
	}

	return root
}

func TestProtocol_AddProcess_RejectsDuplicateAndInvalidNames(t *testing.T) {
	root := NewProtocolModel("root")

	require.NoError(t, root.Protocol.AddProcess(textTask("a")))
	assert.ErrorIs(t, root.Protocol.AddProcess(textTask("a")), ErrDuplicateInstanceName)
	assert.ErrorIs(t, root.Protocol.AddProcess(textTask("a-b")), ErrInvalidInstanceName)
	assert.ErrorIs(t, root.Protocol.AddProcess(textTask("")), ErrInvalidInstanceName)
}

func TestProtocol_AddConnector_RejectsCycles(t *testing.T) {
	root := chain(t, "a", "b", "c")

	err := root.Protocol.AddConnector(&Connector{FromProcess: "c", FromPort: "out", ToProcess: "a", ToPort: "in"})
	assert.ErrorIs(t, err, ErrCycle)

	err = root.Protocol.AddConnector(&Connector{FromProcess: "a", FromPort: "out", ToProcess: "a", ToPort: "in"})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestProtocol_AddConnector_OneConnectorPerInput(t *testing.T) {
	root := chain(t, "a", "b")
	require.NoError(t, root.Protocol.AddProcess(textTask("c")))

	err := root.Protocol.AddConnector(&Connector{FromProcess: "c", FromPort: "out", ToProcess: "b", ToPort: "in"})
	assert.ErrorIs(t, err, ErrInputAlreadyConnected)
}

func TestProtocol_AddConnector_FanOutAllowed(t *testing.T) {
	root := chain(t, "a", "b")
	require.NoError(t, root.Protocol.AddProcess(textTask("c")))

	err := root.Protocol.AddConnector(&Connector{FromProcess: "a", FromPort: "out", ToProcess: "c", ToPort: "in"})
	require.NoError(t, err)
	assert.Len(t, root.Protocol.OutputConnectors("a"), 2)
}

func TestProtocol_AddConnector_ValidatesPorts(t *testing.T) {
	root := chain(t, "a", "b")

	err := root.Protocol.AddConnector(&Connector{FromProcess: "a", FromPort: "missing", ToProcess: "b", ToPort: "in"})
	assert.ErrorIs(t, err, ErrPortNotFound)

	err = root.Protocol.AddConnector(&Connector{FromProcess: "a", FromPort: "in", ToProcess: "b", ToPort: "in"})
	assert.ErrorIs(t, err, ErrPortNotFound)

	err = root.Protocol.AddConnector(&Connector{FromProcess: "x", FromPort: "out", ToProcess: "b", ToPort: "in"})
	assert.ErrorIs(t, err, ErrProcessNotFound)

	jsonTask := NewTaskModel("j", "test.json", []PortSpec{{Name: "in", ResourceTypes: []string{"json"}}}, nil, nil)
	require.NoError(t, root.Protocol.AddProcess(jsonTask))

	err = root.Protocol.AddConnector(&Connector{FromProcess: "b", FromPort: "out", ToProcess: "j", ToPort: "in"})
	assert.ErrorIs(t, err, ErrIncompatiblePorts)
}

func TestProtocol_TopologicalOrder(t *testing.T) {
	root := NewProtocolModel("root")
	for _, name := range []string{"c", "b", "a"} {
		require.NoError(t, root.Protocol.AddProcess(textTask(name)))
	}

	require.NoError(t, root.Protocol.AddConnector(&Connector{FromProcess: "a", FromPort: "out", ToProcess: "b", ToPort: "in"}))
	require.NoError(t, root.Protocol.AddConnector(&Connector{FromProcess: "b", FromPort: "out", ToProcess: "c", ToPort: "in"}))

	order, err := root.Protocol.TopologicalOrder()
	require.NoError(t, err)

	names := make([]string, 0, len(order))
	for _, p := range order {
		names = append(names, p.InstanceName)
	}

	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestProtocol_Propagate(t *testing.T) {
	root := chain(t, "a", "b")
	a := root.Protocol.Process("a")

	require.NoError(t, a.Output("out").Bind("r1", "text"))

	touched, err := root.Protocol.Propagate("a")
	require.NoError(t, err)
	require.Len(t, touched, 1)
	assert.Equal(t, "r1", root.Protocol.Process("b").Input("in").ResourceID)

	root.Protocol.ClearDownstreamInputs("a")
	assert.False(t, root.Protocol.Process("b").Input("in").IsBound())
}

func TestProtocol_ClearDownstreamInputsDemotesReady(t *testing.T) {
	root := chain(t, "a", "b")
	a := root.Protocol.Process("a")
	b := root.Protocol.Process("b")

	require.NoError(t, a.Output("out").Bind("r1", "text"))
	_, err := root.Protocol.Propagate("a")
	require.NoError(t, err)

	assert.True(t, b.MarkReady())
	assert.False(t, b.MarkReady(), "already ready")

	root.Protocol.ClearDownstreamInputs("a")
	assert.Equal(t, ProcessStatusCreated, b.Status)
	assert.True(t, b.Status.IsPending())
}

func TestProtocol_PredecessorsAndSuccessors(t *testing.T) {
	root := chain(t, "a", "b", "c")

	preds := root.Protocol.Predecessors("b")
	require.Len(t, preds, 1)
	assert.Equal(t, "a", preds[0].InstanceName)

	succs := root.Protocol.Successors("b")
	require.Len(t, succs, 1)
	assert.Equal(t, "c", succs[0].InstanceName)
}

func TestProcess_InterfacesAndOuterfaces(t *testing.T) {
	sub := chain(t, "a", "b")
	sub.InstanceName = "sub"

	require.NoError(t, sub.AddInterface("source", "a", "in"))
	require.NoError(t, sub.AddOuterface("target", "b", "out"))

	assert.NotNil(t, sub.Input("source"))
	assert.NotNil(t, sub.Output("target"))
	assert.ErrorIs(t, sub.AddInterface("source", "a", "in"), ErrIOFaceAlreadyExists)
	assert.ErrorIs(t, sub.AddInterface("other", "b", "in"), ErrInputAlreadyConnected)
	assert.ErrorIs(t, sub.AddOuterface("bad", "b", "in"), ErrPortNotFound)

	require.NoError(t, sub.Validate())

	require.NoError(t, sub.RemoveProcess("a"))
	assert.Nil(t, sub.Input("source"))
	assert.Empty(t, sub.Protocol.Interfaces)
	assert.Empty(t, sub.Protocol.Connectors)
}

func TestProcess_ProcessByPathAndWalk(t *testing.T) {
	root := NewProtocolModel("root")
	sub := chain(t, "inner")
	sub.InstanceName = "sub"

	require.NoError(t, root.Protocol.AddProcess(sub))
	require.NoError(t, root.Protocol.AddProcess(textTask("top")))

	p, err := root.ProcessByPath("sub.inner")
	require.NoError(t, err)
	assert.Equal(t, "inner", p.InstanceName)

	_, err = root.ProcessByPath("top.inner")
	assert.ErrorIs(t, err, ErrNotAProtocol)

	_, err = root.ProcessByPath("sub.nope")
	assert.ErrorIs(t, err, ErrProcessNotFound)

	var paths []string

	require.NoError(t, root.Walk(func(path string, _ *ProcessModel) error {
		paths = append(paths, path)

		return nil
	}))
	assert.Equal(t, []string{"sub", "sub.inner", "top"}, paths)
}

func TestProcess_ResetKeepsConstantOutputs(t *testing.T) {
	task := NewTaskModel("src", "plug.source", nil, []PortSpec{{Name: "resource", Constant: true}, {Name: "other"}}, nil)

	require.NoError(t, task.Output("resource").Bind("r1", "text"))
	require.NoError(t, task.Output("other").Bind("r2", "text"))
	task.MarkSuccess(time.Now())

	task.Reset()

	assert.Equal(t, ProcessStatusCreated, task.Status)
	assert.Equal(t, "r1", task.Output("resource").ResourceID)
	assert.Empty(t, task.Output("other").ResourceID)
}

func TestProcessError_WithParent(t *testing.T) {
	err := &ProcessError{Kind: ErrorKindRuntime, Message: "boom", InstancePath: "sub.a"}

	chained := err.WithParent("a").WithParent("sub")
	assert.Equal(t, "sub > a", chained.Context)
	assert.Empty(t, err.Context)
	assert.Contains(t, chained.Error(), "sub > a")
}
