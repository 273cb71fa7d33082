package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	assert.Equal(t, "els", ShapeELS.String())
	assert.Equal(t, "lspu", ShapeLSPU.String())
	assert.Equal(t, "empty", ShapeEmpty.String())

	b, err := json.Marshal(Snapshot{Shape: ShapeLSPU})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"shape":"lspu"`)
}

func TestSnapshotIsELS(t *testing.T) {
	var s *Snapshot
	assert.False(t, s.IsELS())
	assert.False(t, (&Snapshot{Shape: ShapeLSPU}).IsELS())
	assert.True(t, (&Snapshot{Shape: ShapeELS}).IsELS())
}

func TestCounterDevice(t *testing.T) {
	d := CounterDevice{AccountNumber: "123", UUID: "abc"}
	assert.Equal(t, "MyGas 123", d.Name())

	d.Alias = "Dacha"
	assert.Equal(t, "MyGas Dacha (123)", d.Name())

	assert.Equal(t, "123_abc", MakeDeviceIdentifier("123", "abc"))
}
