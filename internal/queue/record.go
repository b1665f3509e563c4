package queue

import (
	"encoding/binary"
	"hash/crc32"
)

// Entry record: enqueuedMs(8B BE) | attempts(4B BE) | payload | crc32c(preceding)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const recordOverhead = 8 + 4 + 4

// EncodeEntry frames a payload with its delivery metadata and a checksum.
func EncodeEntry(payload []byte, enqueuedMs int64, attempts uint32) []byte {
	out := make([]byte, 0, recordOverhead+len(payload))
	var hdr [12]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(enqueuedMs))
	binary.BigEndian.PutUint32(hdr[8:12], attempts)
	out = append(out, hdr[:]...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, out)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...)
}

// DecodeEntry unframes a record. Returns ok=false on truncation or checksum
// mismatch.
func DecodeEntry(b []byte) (payload []byte, enqueuedMs int64, attempts uint32, ok bool) {
	if len(b) < recordOverhead {
		return nil, 0, 0, false
	}
	body := b[:len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	if crc32.Update(0, castagnoli, body) != expect {
		return nil, 0, 0, false
	}
	enqueuedMs = int64(binary.BigEndian.Uint64(body[0:8]))
	attempts = binary.BigEndian.Uint32(body[8:12])
	payload = append([]byte(nil), body[12:]...)
	return payload, enqueuedMs, attempts, true
}
