package natslink

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerrors "github.com/c360/keymesh/errors"
	"github.com/c360/keymesh/internal/runtime"
)

func TestSampleRoundTrip(t *testing.T) {
	in := runtime.Sample{
		KeyExpr:   "sensors/room1/temp",
		Payload:   []byte("21.5"),
		Encoding:  "text/plain",
		Kind:      runtime.KindPut,
		Timestamp: time.Unix(1724500000, 123456789),
		Seq:       42,
		QoS: runtime.QoS{
			Priority:          runtime.PriorityInteractive,
			CongestionControl: runtime.CongestionDrop,
			Express:           true,
		},
		Attachment: []byte("meta"),
		Origin:     "engine-a",
	}

	data, err := encodeSample(in)
	require.NoError(t, err)

	out, err := decodeSample(data)
	require.NoError(t, err)
	assert.Equal(t, in.KeyExpr, out.KeyExpr)
	assert.Equal(t, in.Payload, out.Payload)
	assert.Equal(t, in.Kind, out.Kind)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Seq, out.Seq)
	assert.Equal(t, in.QoS, out.QoS)
	assert.Equal(t, in.Origin, out.Origin)
}

func TestDecodeSampleMalformed(t *testing.T) {
	_, err := decodeSample([]byte("not msgpack at all"))
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrDecodeEnvelope)
}

func TestDeleteSampleCarriesNoPayload(t *testing.T) {
	data, err := encodeSample(runtime.Sample{
		KeyExpr:   "sensors/room1/temp",
		Kind:      runtime.KindDelete,
		Timestamp: time.Now(),
		Origin:    "engine-a",
	})
	require.NoError(t, err)

	out, err := decodeSample(data)
	require.NoError(t, err)
	assert.Equal(t, runtime.KindDelete, out.Kind)
	assert.Nil(t, out.Payload)
}

func TestCompileAllowKeys(t *testing.T) {
	globs, err := compileAllowKeys([]string{"sensors/**", "status/*/health"})
	require.NoError(t, err)
	require.Len(t, globs, 2)

	l := &Link{allow: globs}
	assert.True(t, l.allowed("sensors/room1/temp"))
	assert.True(t, l.allowed("status/node3/health"))
	assert.False(t, l.allowed("control/room1"))

	open := &Link{}
	assert.True(t, open.allowed("anything/at/all"))
}

func TestCompileAllowKeysRejectsBadPattern(t *testing.T) {
	_, err := compileAllowKeys([]string{"sensors/["})
	require.Error(t, err)
	assert.ErrorIs(t, err, kerrors.ErrInvalidConfig)
}
