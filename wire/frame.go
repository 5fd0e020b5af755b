package wire

import (
	"encoding/binary"
	"io"
	"net"
)

// frameHeaderSize is topic-length(4) + reqID(8) + payload-length(4).
const frameHeaderSize = 16

// WriteFrame writes a length-prefixed (topic, reqID, payload) envelope to
// conn. A string topic, rather than a fixed (shardID, requestID) pair,
// lets the same framing serve both the well-known load-request topic and
// each loader's unique, per-instance response topic.
func WriteFrame(conn net.Conn, topic string, reqID uint64, payload []byte) error {
	topicBytes := []byte(topic)

	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(topicBytes)))
	binary.BigEndian.PutUint64(header[4:12], reqID)
	binary.BigEndian.PutUint32(header[12:16], uint32(len(payload)))

	buffers := net.Buffers{header, topicBytes, payload}
	_, err := buffers.WriteTo(conn)
	return err
}

// ReadFrame reads one envelope from conn. buf is reused as scratch space
// when large enough; pass nil to always allocate fresh buffers.
func ReadFrame(conn net.Conn, buf []byte) (topic string, reqID uint64, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(conn, header); err != nil {
		return "", 0, nil, err
	}

	topicLen := binary.BigEndian.Uint32(header[0:4])
	reqID = binary.BigEndian.Uint64(header[4:12])
	payloadLen := binary.BigEndian.Uint32(header[12:16])

	topicBuf := make([]byte, topicLen)
	if _, err = io.ReadFull(conn, topicBuf); err != nil {
		return "", 0, nil, err
	}
	topic = string(topicBuf)

	if payloadLen == 0 {
		return topic, reqID, []byte{}, nil
	}

	if len(buf) < int(payloadLen) {
		buf = make([]byte, payloadLen)
	}
	if _, err = io.ReadFull(conn, buf[:payloadLen]); err != nil {
		return "", 0, nil, err
	}

	return topic, reqID, buf[:payloadLen], nil
}
