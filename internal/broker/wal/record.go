// internal/broker/wal/record.go
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Формат payload записи:
//
//	offset u64 | produced_at unix-nano i64 |
//	id (u16 len + bytes) | producer_id (u16 len + bytes) | topic (u16 len + bytes) |
//	command payload (до конца кадра)
const recordFixedSize = 8 + 8 + 2 + 2 + 2

var errShortRecord = errors.New("wal: short record")

func encodeRecord(cmd Command) ([]byte, error) {
	for _, s := range []string{cmd.ID, cmd.ProducerID, cmd.Topic} {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: string field of %d bytes", ErrRecordTooLarge, len(s))
		}
	}
	n := recordFixedSize + len(cmd.ID) + len(cmd.ProducerID) + len(cmd.Topic) + len(cmd.Payload)
	if n > maxFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrRecordTooLarge, n)
	}

	buf := make([]byte, 0, n)
	buf = binary.BigEndian.AppendUint64(buf, cmd.Offset)
	buf = binary.BigEndian.AppendUint64(buf, uint64(cmd.ProducedAt.UnixNano()))
	buf = appendString(buf, cmd.ID)
	buf = appendString(buf, cmd.ProducerID)
	buf = appendString(buf, cmd.Topic)
	return append(buf, cmd.Payload...), nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	return append(dst, s...)
}

func decodeRecord(b []byte) (Command, error) {
	if len(b) < recordFixedSize {
		return Command{}, errShortRecord
	}
	var cmd Command
	cmd.Offset = binary.BigEndian.Uint64(b[0:8])
	cmd.ProducedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[8:16]))).UTC()
	rest := b[16:]

	var err error
	if cmd.ID, rest, err = readString(rest); err != nil {
		return Command{}, err
	}
	if cmd.ProducerID, rest, err = readString(rest); err != nil {
		return Command{}, err
	}
	if cmd.Topic, rest, err = readString(rest); err != nil {
		return Command{}, err
	}
	cmd.Payload = rest
	return cmd, nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, errShortRecord
	}
	n := int(binary.BigEndian.Uint16(b))
	b = b[2:]
	if len(b) < n {
		return "", nil, errShortRecord
	}
	return string(b[:n]), b[n:], nil
}
