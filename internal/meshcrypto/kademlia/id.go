// Package kademlia implements the 160-bit XOR-metric node-id space used by
// the routing core's DHT lookup mode (spec §4.6). It fixes the Open
// Questions decision: node ids are SHA-256 of the public key, truncated to
// 160 bits (the first 20 bytes) — not SHA-1.
package kademlia

import (
	"bytes"
	"crypto/sha256"
)

const IDSize = 20 // 160 bits

// ID is a 160-bit Kademlia node identifier.
type ID [IDSize]byte

// NodeID derives the Kademlia id of a public key: SHA-256 truncated to the
// leading 160 bits.
func NodeID(publicKey []byte) ID {
	sum := sha256.Sum256(publicKey)
	var id ID
	copy(id[:], sum[:IDSize])
	return id
}

// Distance returns the XOR distance between two ids.
func Distance(a, b ID) ID {
	var d ID
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance a is strictly closer (numerically smaller)
// than distance b, comparing as big-endian unsigned integers.
func Less(a, b ID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// CommonPrefixLen returns the number of leading bits shared between a and b
// — the k-bucket index a node computed against a local id falls into.
func CommonPrefixLen(a, b ID) int {
	d := Distance(a, b)
	for i, byteVal := range d {
		if byteVal == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if byteVal&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return IDSize * 8
}
