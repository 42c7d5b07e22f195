package telemetry

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeHeartRate(t *testing.T) {
	tests := []struct {
		name string
		bpm  uint16
		want []byte
	}{
		{name: "resting rate", bpm: 60, want: []byte{0x06, 60}},
		{name: "95 bpm", bpm: 95, want: []byte{0x06, 0x5F}},
		{name: "zero", bpm: 0, want: []byte{0x06, 0}},
		{name: "at u8 boundary", bpm: 255, want: []byte{0x06, 255}},
		{name: "clamped above u8", bpm: 256, want: []byte{0x06, 255}},
		{name: "clamped far above u8", bpm: 500, want: []byte{0x06, 255}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeHeartRate(tt.bpm))
		})
	}
}

func TestEncodeHeartRate_FlagsAlwaysFixed(t *testing.T) {
	for bpm := uint16(0); bpm <= 500; bpm++ {
		frame := EncodeHeartRate(bpm)
		require.Len(t, frame, HeartRateFrameLen)
		require.Equal(t, byte(0x06), frame[0], "bpm=%d", bpm)
		if bpm > 255 {
			require.Equal(t, byte(255), frame[1], "bpm=%d", bpm)
		} else {
			require.Equal(t, byte(bpm), frame[1], "bpm=%d", bpm)
		}
	}
}

func TestEncodePLX(t *testing.T) {
	frame := EncodePLX(98, 72)
	require.Len(t, frame, PLXFrameLen)

	assert.Equal(t, byte(0x03), frame[0])
	assert.Equal(t, uint16(98), binary.LittleEndian.Uint16(frame[1:3])&0x0FFF)
	assert.Equal(t, uint16(72), binary.LittleEndian.Uint16(frame[3:5])&0x0FFF)
	assert.Equal(t, uint16(0x0001), binary.LittleEndian.Uint16(frame[5:7]))
}

func TestEncodePLX_Clamping(t *testing.T) {
	frame := EncodePLX(255, 500)
	assert.Equal(t, 100.0, SFloatToFloat(binary.LittleEndian.Uint16(frame[1:3])))
	assert.Equal(t, 300.0, SFloatToFloat(binary.LittleEndian.Uint16(frame[3:5])))
}

// Round-trip law: every whole-number value in the physiological ranges
// survives SFLOAT encoding exactly (zero excepted, it is the NRes sentinel).
func TestEncodePLX_RoundTrip(t *testing.T) {
	for spo2 := uint8(1); spo2 <= 100; spo2++ {
		for pulse := uint16(1); pulse <= 300; pulse += 7 {
			frame := EncodePLX(spo2, pulse)
			require.Len(t, frame, PLXFrameLen)
			require.Equal(t, byte(0x03), frame[0])
			require.Equal(t, float64(spo2), SFloatToFloat(binary.LittleEndian.Uint16(frame[1:3])),
				"spo2=%d pulse=%d", spo2, pulse)
			require.Equal(t, float64(pulse), SFloatToFloat(binary.LittleEndian.Uint16(frame[3:5])),
				"spo2=%d pulse=%d", spo2, pulse)
		}
	}
}

func TestFloatToSFloat(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		want  uint16
	}{
		{name: "zero is NRes sentinel", value: 0, want: 0x07FF},
		{name: "one", value: 1, want: 0x0001},
		{name: "typical spo2", value: 98, want: 0x0062},
		{name: "mantissa max", value: 2047, want: 0x07FF},
		{name: "clamped above mantissa max", value: 2048, want: 0x07FF},
		{name: "negative", value: -1, want: 0x0FFF},
		{name: "mantissa min", value: -2048, want: 0x0800},
		{name: "clamped below mantissa min", value: -3000, want: 0x0800},
		{name: "fraction truncates toward zero", value: 97.9, want: 0x0061},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FloatToSFloat(tt.value))
		})
	}
}

func TestSFloatToFloat_NegativeMantissa(t *testing.T) {
	assert.Equal(t, -1.0, SFloatToFloat(0x0FFF))
	assert.Equal(t, -2048.0, SFloatToFloat(0x0800))
}
