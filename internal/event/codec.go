package event

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Envelope identifiers.
const (
	TraceFormat  = "term-agent-trace"
	TraceVersion = 1

	EncodingJSON = "json"
	EncodingCBOR = "cbor"

	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// ErrDigestMismatch is returned when a trace payload does not match its
// recorded digest.
var ErrDigestMismatch = errors.New("trace digest mismatch")

// digestKey is the keyed BLAKE3 domain for trace payloads: ASCII,
// zero-padded to 32 bytes.
var digestKey = [32]byte{
	't', 'e', 'r', 'm', '-', 'a', 'g', 'e', 'n', 't', '.', 't', 'r', 'a', 'c', 'e',
	'.', 'v', '1',
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("event: creating CBOR encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("event: creating CBOR decoder: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("event: creating zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("event: creating zstd decoder: " + err.Error())
	}
}

// Options select the trace encoding.
type Options struct {
	Encoding string // EncodingJSON (default) or EncodingCBOR
	Compress bool   // zstd
}

// envelope is the on-disk form of a trace. It is always JSON so a trace can
// be identified with a text viewer; the payload is inlined when it is
// uncompressed JSON and base64 otherwise.
type envelope struct {
	Format      string          `json:"format"`
	Version     int             `json:"version"`
	Encoding    string          `json:"encoding"`
	Compression string          `json:"compression"`
	Digest      string          `json:"digest"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Data        []byte          `json:"data,omitempty"`
}

// Encode serializes a trace.
func Encode(t Trace, opts Options) ([]byte, error) {
	encoding := opts.Encoding
	if encoding == "" {
		encoding = EncodingJSON
	}

	var payload []byte
	var err error
	switch encoding {
	case EncodingJSON:
		payload, err = json.Marshal(t)
	case EncodingCBOR:
		payload, err = encMode.Marshal(t)
	default:
		return nil, fmt.Errorf("unknown trace encoding %q", encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("encode trace: %w", err)
	}

	env := envelope{
		Format:      TraceFormat,
		Version:     TraceVersion,
		Encoding:    encoding,
		Compression: CompressionNone,
		Digest:      digest(payload),
	}
	switch {
	case opts.Compress:
		env.Compression = CompressionZstd
		env.Data = zstdEncoder.EncodeAll(payload, nil)
	case encoding == EncodingJSON:
		env.Payload = payload
	default:
		env.Data = payload
	}
	return json.MarshalIndent(env, "", "  ")
}

// Decode parses and verifies a trace.
func Decode(data []byte) (Trace, error) {
	env, payload, err := open(data)
	if err != nil {
		return Trace{}, err
	}
	var t Trace
	switch env.Encoding {
	case EncodingJSON:
		err = json.Unmarshal(payload, &t)
	case EncodingCBOR:
		err = decMode.Unmarshal(payload, &t)
	}
	if err != nil {
		return Trace{}, fmt.Errorf("decode trace: %w", err)
	}
	return t, nil
}

// Verify checks the envelope and digest without decoding the trace.
func Verify(data []byte) error {
	_, _, err := open(data)
	return err
}

// Header describes an encoded trace.
type Header struct {
	Encoding    string
	Compression string
	Digest      string
}

// VerifyHeader is Verify that also returns the envelope header.
func VerifyHeader(data []byte) (Header, error) {
	env, _, err := open(data)
	if err != nil {
		return Header{}, err
	}
	return Header{Encoding: env.Encoding, Compression: env.Compression, Digest: env.Digest}, nil
}

// open validates the envelope and returns the uncompressed payload.
func open(data []byte) (envelope, []byte, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("parse trace envelope: %w", err)
	}
	if env.Format != TraceFormat {
		return env, nil, fmt.Errorf("not a trace file (format %q)", env.Format)
	}
	if env.Version != TraceVersion {
		return env, nil, fmt.Errorf("unsupported trace version %d", env.Version)
	}
	if env.Encoding != EncodingJSON && env.Encoding != EncodingCBOR {
		return env, nil, fmt.Errorf("unknown trace encoding %q", env.Encoding)
	}

	var payload []byte
	switch env.Compression {
	case CompressionZstd:
		var err error
		payload, err = zstdDecoder.DecodeAll(env.Data, nil)
		if err != nil {
			return env, nil, fmt.Errorf("decompress trace: %w", err)
		}
	case CompressionNone, "":
		if env.Encoding == EncodingJSON {
			var buf bytes.Buffer
			if err := json.Compact(&buf, env.Payload); err != nil {
				return env, nil, fmt.Errorf("parse trace payload: %w", err)
			}
			payload = buf.Bytes()
		} else {
			payload = env.Data
		}
	default:
		return env, nil, fmt.Errorf("unknown trace compression %q", env.Compression)
	}

	if got := digest(payload); got != env.Digest {
		return env, nil, fmt.Errorf("%w: recorded %s, computed %s", ErrDigestMismatch, env.Digest, got)
	}
	return env, payload, nil
}

func digest(payload []byte) string {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("event: blake3 keyed hasher: " + err.Error())
	}
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// WriteFile encodes a trace to path, creating parent directories. The file
// is replaced atomically.
func WriteFile(path string, t Trace, opts Options) error {
	data, err := Encode(t, opts)
	if err != nil {
		return err
	}
	return WriteEncoded(path, data)
}

// WriteEncoded writes an already encoded trace to path.
func WriteEncoded(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".trace-*")
	if err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write trace: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

// ReadFile reads and verifies a trace file.
func ReadFile(path string) (Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Trace{}, err
	}
	return Decode(data)
}
