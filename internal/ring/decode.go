package ring

import (
	"encoding/binary"
	"math"

	"github.com/obos-dev/obos-aud/internal/wire"
)

// ulawToLinear is copied verbatim from the original server's
// ulaw_decode_table (libaustream/stream.c) for bit-exact decode output.
// alawToLinear has no original-source equivalent (the original decodes
// u-law only); it is built from the standard ITU-T G.711 A-law formula,
// grounded on flowpbx's media package which decodes both laws the same
// way a SIP PBX's RTP payload needs to.
var ulawToLinear = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

var alawToLinear [256]int16

func init() {
	for i := 0; i < 256; i++ {
		alawToLinear[i] = decodeALaw(uint8(i))
	}
}

// decodeALaw converts a single G.711 a-law byte to 16-bit linear PCM.
func decodeALaw(a uint8) int16 {
	a ^= 0x55
	sign := int16(1)
	if a&0x80 != 0 {
		a &= 0x7F
	} else {
		sign = -1
	}
	exponent := int((a >> 4) & 0x07)
	mantissa := int(a & 0x0F)
	var sample int16
	if exponent == 0 {
		sample = int16(mantissa<<4 | 0x08)
	} else {
		sample = int16((mantissa<<4 | 0x108) << uint(exponent-1))
	}
	return sign * sample
}

// decode converts len(data)-byte samples encoded per flags into 16-bit
// linear PCM, little-endian, one int16 per output sample (spec §4.3 step
// 1). Flags are mutually exclusive; the zero value is plain PCM16, passed
// through unchanged.
func decode(flags uint32, data []byte) []int16 {
	switch {
	case flags&wire.FlagULawDecode != 0:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = ulawToLinear[b]
		}
		return out
	case flags&wire.FlagALawDecode != 0:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = alawToLinear[b]
		}
		return out
	case flags&wire.FlagPCM24Decode != 0:
		n := len(data) / 3
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			b := data[3*i : 3*i+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF)
			}
			out[i] = int16(v >> 8)
		}
		return out
	case flags&wire.FlagPCM32Decode != 0:
		n := len(data) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[4*i : 4*i+4]))
			out[i] = int16(v >> 16)
		}
		return out
	case flags&wire.FlagF32Decode != 0:
		n := len(data) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[4*i : 4*i+4]))
			out[i] = clampToInt16(f * 32767)
		}
		return out
	default:
		n := len(data) / 2
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			out[i] = int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
		}
		return out
	}
}

func clampToInt16(f float32) int16 {
	if f > 32767 {
		return 32767
	}
	if f < -32768 {
		return -32768
	}
	return int16(f)
}

func int16sToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(s))
	}
	return out
}
