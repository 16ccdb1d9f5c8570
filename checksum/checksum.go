// Package checksum computes the integrity checksums stored alongside the
// secure data spaces. The polynomials and initial values are a persisted
// contract: records written by earlier firmware must keep validating.
package checksum

import (
	"hash/crc32"
)

// Poly8 is the CRC-8 generator polynomial x^8 + x^2 + x + 1.
const Poly8 = 0x07

var crc8Table = makeTable8(Poly8)

func makeTable8(poly uint8) *[256]uint8 {
	t := new([256]uint8)
	for i := range t {
		crc := uint8(i)
		for j := 0; j < 8; j++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}

// CRC8 returns the CRC-8 of b: polynomial 0x07, zero initial value, no
// reflection, no final xor.
func CRC8(b []byte) uint8 {
	return UpdateCRC8(0, b)
}

// UpdateCRC8 continues crc over b.
func UpdateCRC8(crc uint8, b []byte) uint8 {
	for _, v := range b {
		crc = crc8Table[crc^v]
	}
	return crc
}

// CRC32 returns the IEEE CRC-32 of b, as used by GPT headers and larger
// firmware records.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
