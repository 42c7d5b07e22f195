// Package telemetry packs physiological values into the byte frames the
// Heart Rate and Pulse Oximeter measurement profiles expect on the wire.
// All functions are pure; out-of-range inputs are clamped, never rejected,
// and it is the caller's job to log clamped values as data-quality events.
package telemetry

import "encoding/binary"

// Frame sizes in bytes.
const (
	HeartRateFrameLen = 2
	PLXFrameLen       = 7
)

const (
	// heartRateFlags: 8-bit value format, sensor contact detected.
	heartRateFlags byte = 0x06

	// plxFlags: SpO2PR-Normal present, measurement status present.
	plxFlags byte = 0x03

	// statusValidNormal is the measurement-status bitfield with bit 0 set,
	// meaning "valid normal measurement".
	statusValidNormal uint16 = 0x0001
)

// SFloatNRes is the reserved SFLOAT sentinel "not at this resolution".
const SFloatNRes uint16 = 0x07FF

// SFLOAT mantissa range (12-bit two's complement).
const (
	sfloatMantissaMin = -2048
	sfloatMantissaMax = 2047
)

// EncodeHeartRate builds a 2-byte heart-rate measurement frame:
// [flags=0x06][bpm:u8]. Values above 255 bpm are clamped to 255.
func EncodeHeartRate(bpm uint16) []byte {
	if bpm > 255 {
		bpm = 255
	}
	return []byte{heartRateFlags, byte(bpm)}
}

// EncodePLX builds a 7-byte PLX continuous measurement frame:
// [flags=0x03][spo2:sfloat][pulse:sfloat][status:u16], little-endian.
// SpO2 is clamped to [0,100] percent, pulse to [0,300] bpm.
func EncodePLX(spo2Percent uint8, pulseBPM uint16) []byte {
	if spo2Percent > 100 {
		spo2Percent = 100
	}
	if pulseBPM > 300 {
		pulseBPM = 300
	}

	frame := make([]byte, PLXFrameLen)
	frame[0] = plxFlags
	binary.LittleEndian.PutUint16(frame[1:3], FloatToSFloat(float64(spo2Percent)))
	binary.LittleEndian.PutUint16(frame[3:5], FloatToSFloat(float64(pulseBPM)))
	binary.LittleEndian.PutUint16(frame[5:7], statusValidNormal)
	return frame
}

// FloatToSFloat converts a value to the 16-bit SFLOAT encoding used by
// health-device profiles: a 12-bit signed mantissa in bits 0-11 and a
// 4-bit signed exponent in bits 12-15, value = mantissa * 10^exponent.
//
// This profile always encodes with exponent 0. Zero maps to the reserved
// NRes sentinel. The mantissa is the input truncated toward zero and
// clamped to [-2048, 2047]; fractional precision is not carried because
// the physiological units here are whole numbers.
func FloatToSFloat(value float64) uint16 {
	if value == 0 {
		return SFloatNRes
	}

	// Clamp before the integer conversion; converting an out-of-range
	// float to int16 is not defined.
	if value < sfloatMantissaMin {
		value = sfloatMantissaMin
	} else if value > sfloatMantissaMax {
		value = sfloatMantissaMax
	}
	mantissa := int16(value) // truncates toward zero

	// Exponent 0 leaves bits 12-15 clear.
	return uint16(mantissa) & 0x0FFF
}

// SFloatToFloat decodes a 16-bit SFLOAT into its numeric value. The NRes
// sentinel decodes to 0, mirroring FloatToSFloat.
func SFloatToFloat(s uint16) float64 {
	if s == SFloatNRes {
		return 0
	}

	mantissa := int16(s & 0x0FFF)
	if mantissa >= 0x0800 { // sign-extend 12-bit two's complement
		mantissa -= 0x1000
	}
	exponent := int8(s >> 12)
	if exponent >= 8 {
		exponent -= 16
	}

	v := float64(mantissa)
	for i := int8(0); i < exponent; i++ {
		v *= 10
	}
	for i := exponent; i < 0; i++ {
		v /= 10
	}
	return v
}
