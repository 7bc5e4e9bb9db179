// Package wire implements the two on-wire record formats exchanged over a
// flow's data and reply sockets: the data block and the reply block. Both
// are written in host byte order, preserving compatibility with
// flowgrind's raw memcpy of a struct timeval/double onto the wire (see
// DESIGN.md on the endianness choice).
package wire

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/joeycumines/flowgrindd/internal/clock"
)

// TimevalSize and FloatSize mirror sizeof(struct timeval) and
// sizeof(double) on 64-bit Linux: two 8-byte fields, and an IEEE-754
// double.
const (
	TimevalSize = 16 // two int64 fields: seconds, microseconds
	FloatSize   = 8
)

// ErrBlockTooSmall is returned when a data block is too small to hold the
// mandatory length byte and timestamp.
var ErrBlockTooSmall = errors.New("wire: block smaller than header")

// ReplySize returns the size of the reply block an endpoint must echo for a
// data block whose header declares length L: L + sizeof(double).
func ReplySize(l byte) int {
	return int(l) + FloatSize
}

// HeaderSize is the number of header bytes at the front of every data
// block: one length byte followed by a timeval.
const HeaderSize = 1 + TimevalSize

// PutBlockHeader writes the length byte and send timestamp into the head of
// a freshly started write block, matching write_data()'s:
//
//	flow->write_block[0] = sizeof(struct timeval) + 1;
//	tsc_gettimeofday((struct timeval *)(flow->write_block + 1));
//
// The length byte here is fixed at TimevalSize+1: the echoed reply is
// exactly {1 byte len}{timeval}{double iat}, so the data block declares its
// own header size as the amount the destination must echo back verbatim.
func PutBlockHeader(block []byte, sent clock.Timeval) error {
	if len(block) < HeaderSize {
		return ErrBlockTooSmall
	}
	block[0] = byte(HeaderSize)
	binary.NativeEndian.PutUint64(block[1:9], uint64(sent.Sec))
	binary.NativeEndian.PutUint64(block[9:17], uint64(sent.Usec))
	return nil
}

// ReplyLength reads the echoed-length byte from the head of a completed
// read block.
func ReplyLength(block []byte) byte {
	return block[0]
}

// PutIAT writes the inter-arrival time double at offset L within a received
// data block, the slot the destination fills in before echoing the block
// back as a reply. iat may be math.NaN() for the first block ever
// received on a flow.
func PutIAT(block []byte, l byte, iat float64) error {
	off := int(l)
	if len(block) < off+FloatSize {
		return ErrBlockTooSmall
	}
	binary.NativeEndian.PutUint64(block[off:off+FloatSize], math.Float64bits(iat))
	return nil
}

// BuildReply assembles the L+sizeof(double) bytes that get echoed back to
// the sender over the reply socket: the received block's header
// (length byte + timeval), with the IAT double appended at offset L.
//
// block must already have its timeval header and IAT slot populated; this
// just slices out the portion that gets echoed.
func BuildReply(block []byte, l byte) []byte {
	return block[:ReplySize(l)]
}

// ReplyBlockSize is the fixed size of the reply_block buffer a client-side
// flow accumulates bytes into: {len byte}{timeval}{double iat}.
const ReplyBlockSize = 1 + TimevalSize + FloatSize

// ParseReply decodes a fully-received reply block into its sent timestamp
// and IAT value.
func ParseReply(block []byte) (sent clock.Timeval, iat float64, err error) {
	if len(block) < ReplyBlockSize {
		return clock.Timeval{}, 0, ErrBlockTooSmall
	}
	sent.Sec = int64(binary.NativeEndian.Uint64(block[1:9]))
	sent.Usec = int64(binary.NativeEndian.Uint64(block[9:17]))
	iat = math.Float64frombits(binary.NativeEndian.Uint64(block[17:25]))
	return sent, iat, nil
}
