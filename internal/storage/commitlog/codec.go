package commitlog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/kitedb/kitesync/internal/core/domain"
	"github.com/kitedb/kitesync/pkg/crypto/adaptive"
)

// Frame layout on disk:
//
//	[length:4][crc32:4][epoch:8][log_index:8][payload...]
//
// length counts everything after itself (crc + epoch + index + payload).
// crc32 covers epoch + index + payload. All integers are big endian.
// When a cipher is configured the payload bytes are stored encrypted;
// epoch and index stay in the clear so cursors can be resolved without
// key material.
const (
	frameFixedLen = 4 + 8 + 8 // crc + epoch + index
	lenFieldSize  = 4
)

func encodeFrame(f domain.LogFrame, cipher adaptive.Cipher) ([]byte, error) {
	if f.Epoch == 0 || f.LogIndex == 0 {
		return nil, fmt.Errorf("commitlog: frame position %d:%d out of range", f.Epoch, f.LogIndex)
	}

	payload := f.Payload
	if cipher != nil && len(payload) > 0 {
		encrypted, err := cipher.Encrypt(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("commitlog: encrypt payload: %w", err)
		}
		payload = encrypted
	}

	body := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint64(body[0:8], f.Epoch)
	binary.BigEndian.PutUint64(body[8:16], f.LogIndex)
	copy(body[16:], payload)

	crc := crc32.ChecksumIEEE(body)

	out := make([]byte, 0, lenFieldSize+frameFixedLen+len(payload))
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(frameFixedLen+len(payload)))
	binary.BigEndian.PutUint32(header[4:8], crc)
	out = append(out, header[:]...)
	out = append(out, body...)
	return out, nil
}

// decodeFrame decodes the bytes after the length field. byteSize is the
// original payload length before encryption, carried back on the frame.
func decodeFrame(frame []byte, cipher adaptive.Cipher) (domain.LogFrame, error) {
	if len(frame) < frameFixedLen {
		return domain.LogFrame{}, ErrCorruptedFrame
	}

	wantCRC := binary.BigEndian.Uint32(frame[:4])
	body := frame[4:]
	if crc32.ChecksumIEEE(body) != wantCRC {
		return domain.LogFrame{}, ErrChecksumMismatch
	}

	out := domain.LogFrame{
		Epoch:    binary.BigEndian.Uint64(body[0:8]),
		LogIndex: binary.BigEndian.Uint64(body[8:16]),
	}
	if out.Epoch == 0 || out.LogIndex == 0 {
		return domain.LogFrame{}, ErrCorruptedFrame
	}

	payload := body[16:]
	if len(payload) > 0 {
		if cipher != nil {
			plain, err := cipher.Decrypt(payload, nil)
			if err != nil {
				return domain.LogFrame{}, fmt.Errorf("commitlog: decrypt payload: %w", err)
			}
			payload = plain
		}
		out.Payload = make([]byte, len(payload))
		copy(out.Payload, payload)
	}
	out.ByteSize = len(out.Payload)
	return out, nil
}
