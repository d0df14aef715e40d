package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Payload framing: a one-byte header records whether the msgpack body that
// follows is lz4-compressed, so readers never have to guess.
const (
	frameRaw byte = 0x00
	frameLZ4 byte = 0x01
)

// EncodePayload serializes an object with msgpack, optionally lz4-compressed
func EncodePayload(obj interface{}, compress bool) ([]byte, error) {
	body, err := msgpack.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	if !compress {
		return append([]byte{frameRaw}, body...), nil
	}

	compressed, err := compressLZ4(body)
	if err != nil {
		return nil, err
	}
	return append([]byte{frameLZ4}, compressed...), nil
}

// DecodePayload deserializes a framed payload produced by EncodePayload
func DecodePayload(data []byte, obj interface{}) error {
	if len(data) < 1 {
		return fmt.Errorf("payload too short")
	}

	body := data[1:]
	switch data[0] {
	case frameRaw:
	case frameLZ4:
		decompressed, err := decompressLZ4(body)
		if err != nil {
			return err
		}
		body = decompressed
	default:
		return fmt.Errorf("unknown payload frame 0x%02x", data[0])
	}

	if err := msgpack.Unmarshal(body, obj); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return nil
}

// compressLZ4 compresses data using LZ4
func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write LZ4 compressed data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close LZ4 writer: %w", err)
	}

	return buf.Bytes(), nil
}

// decompressLZ4 decompresses LZ4 data
func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read LZ4 decompressed data: %w", err)
	}

	return decompressed, nil
}
