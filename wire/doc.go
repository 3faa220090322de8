// Package wire implements pvstats binary frames exchanged over UDP.
//
// One datagram carries exactly one frame: fixed 12 byte header followed by
// `len` payload bytes. All integers are little-endian.
//
//	offset size field
//	0      2    magic   0xCAFE
//	2      1    version 1
//	3      1    type    1..7, see Type
//	4      4    seq     strictly increasing within one stream session
//	8      2    len     payload length
//	10     2    crc     CRC-16/CCITT-FALSE over header (crc=0) then payload
//
// Frames are authenticated by nothing. Decode errors always mean "drop the frame".
package wire
