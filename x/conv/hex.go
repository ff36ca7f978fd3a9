// Package conv formats integers into caller-supplied buffers without fmt,
// for log attributes on the MCU build.
package conv

const hexDigits = "0123456789ABCDEF"

// U32Hex writes n as 8 uppercase hex digits, zero-padded and without 0x,
// into the tail of buf and returns the written slice. buf shorter than 8
// yields an empty slice.
func U32Hex(buf []byte, n uint32) []byte {
	return hexTail(buf, uint64(n), 8)
}

// U16Hex is U32Hex for 4-digit words.
func U16Hex(buf []byte, n uint16) []byte {
	return hexTail(buf, uint64(n), 4)
}

func hexTail(buf []byte, n uint64, digits int) []byte {
	if len(buf) < digits {
		return buf[:0]
	}
	i := len(buf)
	for ; digits > 0; digits-- {
		i--
		buf[i] = hexDigits[n&0xF]
		n >>= 4
	}
	return buf[i:]
}
