// internal/broker/wal/frame.go
package wal

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Кадр: [length u32][crc32 u32][payload], big-endian, CRC-32 IEEE от payload.
const (
	frameHeaderSize = 8
	maxFrameBytes   = 64 << 20
)

var (
	errTornFrame = errors.New("wal: torn frame")
	errChecksum  = errors.New("wal: checksum mismatch")
)

func appendFrame(dst, payload []byte) []byte {
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// readFrame читает кадр по позиции pos файла размера size.
// errTornFrame — кадр не дописан до конца файла (или заголовок нулевой),
// errChecksum — кадр целиком на диске, но CRC не совпал.
func readFrame(r io.ReaderAt, pos, size int64) (payload []byte, next int64, err error) {
	if size-pos < frameHeaderSize {
		return nil, pos, errTornFrame
	}
	var hdr [frameHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], pos); err != nil {
		return nil, pos, err
	}
	length := int64(binary.BigEndian.Uint32(hdr[0:4]))
	sum := binary.BigEndian.Uint32(hdr[4:8])

	// нулевой заголовок — типичный хвост после падения с преаллокацией
	if length == 0 && sum == 0 {
		return nil, pos, errTornFrame
	}
	end := pos + frameHeaderSize + length
	if end > size {
		return nil, pos, errTornFrame
	}
	if length > maxFrameBytes {
		return nil, end, errChecksum
	}

	payload = make([]byte, length)
	if _, err := r.ReadAt(payload, pos+frameHeaderSize); err != nil {
		return nil, pos, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, end, errChecksum
	}
	return payload, end, nil
}

// hasFrameAfter ищет в tail (байты сегмента после битого кадра) целый кадр
// с валидным CRC и offset'ом не меньше want. Найденный кадр означает, что
// повреждена середина лога, а не оборван хвост.
func hasFrameAfter(tail []byte, want uint64) bool {
	maxOffset := want + uint64(len(tail))/(frameHeaderSize+recordFixedSize)
	for i := 1; i+frameHeaderSize+recordFixedSize <= len(tail); i++ {
		length := int(binary.BigEndian.Uint32(tail[i : i+4]))
		if length < recordFixedSize || length > len(tail)-i-frameHeaderSize {
			continue
		}
		body := tail[i+frameHeaderSize : i+frameHeaderSize+length]
		if off := binary.BigEndian.Uint64(body); off < want || off > maxOffset {
			continue
		}
		if crc32.ChecksumIEEE(body) == binary.BigEndian.Uint32(tail[i+4:i+8]) {
			return true
		}
	}
	return false
}
