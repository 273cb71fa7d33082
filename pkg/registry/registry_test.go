package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mygasbridge/mygasbridge/pkg/log"
	"github.com/mygasbridge/mygasbridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

func counter(account, id string) types.CounterDevice {
	return types.CounterDevice{
		AccountNumber: account,
		UUID:          id,
		Identifier:    types.MakeDeviceIdentifier(account, id),
	}
}

func TestDeviceID(t *testing.T) {
	a := DeviceID("123_abc")
	assert.Equal(t, a, DeviceID("123_abc"))
	assert.NotEqual(t, a, DeviceID("123_abd"))

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), parsed.Version())
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	r := New()

	removed := r.Sync(ctx, []types.CounterDevice{counter("1", "a"), counter("1", "b"), counter("1", "a")})
	assert.Empty(t, removed)

	devices := r.Devices()
	require.Len(t, devices, 2, "duplicates are registered once")
	assert.Equal(t, DeviceID("1_a"), devices[0].ID)
	assert.Equal(t, DeviceID("1_b"), devices[1].ID)

	ids, ok := r.Identifiers(DeviceID("1_b"))
	require.True(t, ok)
	assert.Equal(t, []string{"1_b"}, ids)

	e, ok := r.Get(DeviceID("1_a"))
	require.True(t, ok)
	assert.Equal(t, "a", e.Device.UUID)

	removed = r.Sync(ctx, []types.CounterDevice{counter("1", "b"), counter("2", "c")})
	assert.Equal(t, []string{DeviceID("1_a")}, removed)

	_, ok = r.Identifiers(DeviceID("1_a"))
	assert.False(t, ok)
	assert.Len(t, r.Devices(), 2)
}

func TestIdentifiersCopy(t *testing.T) {
	r := New()
	r.Sync(context.Background(), []types.CounterDevice{counter("1", "a")})

	ids, _ := r.Identifiers(DeviceID("1_a"))
	ids[0] = "changed"

	ids, _ = r.Identifiers(DeviceID("1_a"))
	assert.Equal(t, []string{"1_a"}, ids)
}
