package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"

	domainerrors "github.com/mediashelf/mediashelf/internal/errors"
	"github.com/mediashelf/mediashelf/internal/validation"
)

const (
	// DefaultChunkSize is the chunk size used when a channel does not negotiate one.
	DefaultChunkSize = 512

	// MaxFrameSize bounds a single message payload.
	MaxFrameSize = 16 << 20

	headerSize = 4
)

var validate = validation.New()

// Marshal returns the tagged JSON payload for msg, without a frame header.
func Marshal(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, domainerrors.Internal("cannot marshal nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "marshal %s", msg.Type())
	}
	typ, err := json.Marshal(msg.Type())
	if err != nil {
		return nil, domainerrors.Wrapf(err, domainerrors.CodeInternal, "marshal %s", msg.Type())
	}

	var b bytes.Buffer
	b.Grow(len(body) + len(typ) + 10)
	b.WriteString(`{"type":`)
	b.Write(typ)
	if len(body) > 2 {
		b.WriteByte(',')
		b.Write(body[1:])
	} else {
		b.WriteByte('}')
	}
	return b.Bytes(), nil
}

// Frame marshals msg and prefixes it with its length.
func Frame(msg Message) ([]byte, error) {
	payload, err := Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxFrameSize {
		return nil, domainerrors.Validationf("%s payload of %d bytes exceeds %d", msg.Type(), len(payload), MaxFrameSize)
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload))) //nolint:gosec // bounded by MaxFrameSize
	copy(frame[headerSize:], payload)
	return frame, nil
}

// Split cuts a frame into chunks of at most chunkSize bytes. The chunks share
// the frame's backing array.
func Split(frame []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(frame)+chunkSize-1)/chunkSize)
	for start := 0; start < len(frame); start += chunkSize {
		end := min(start+chunkSize, len(frame))
		chunks = append(chunks, frame[start:end:end])
	}
	return chunks
}

// Encode frames msg and splits it into chunks ready for a channel.
func Encode(msg Message, chunkSize int) ([][]byte, error) {
	frame, err := Frame(msg)
	if err != nil {
		return nil, err
	}
	return Split(frame, chunkSize), nil
}

// Decode parses a payload (without its frame header) into one of the known
// messages. Any failure is a MALFORMED_MESSAGE error.
func Decode(payload []byte) (Message, error) {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, domainerrors.MalformedMessage("payload is not a JSON object").WithCause(err)
	}

	switch head.Type {
	case TypeHello:
		return decodeAs[Hello](payload)
	case TypeListLibraries:
		return decodeAs[ListLibraries](payload)
	case TypeSelectLibrary:
		return decodeAs[SelectLibrary](payload)
	case TypeDiffSummary:
		return decodeAs[DiffSummary](payload)
	case TypeTransferItems:
		return decodeAs[TransferItems](payload)
	case TypeDone:
		return decodeAs[Done](payload)
	case "":
		return nil, domainerrors.MalformedMessage("message type is missing")
	default:
		return nil, domainerrors.MalformedMessagef("unknown message type %q", head.Type)
	}
}

func decodeAs[T Message](payload []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, domainerrors.MalformedMessagef("invalid %s", msg.Type()).WithCause(err)
	}
	if err := validate.Validate(msg); err != nil {
		malformed := domainerrors.MalformedMessagef("invalid %s", msg.Type())
		var derr *domainerrors.Error
		if errors.As(err, &derr) && derr.Details != nil {
			malformed = malformed.WithDetails(derr.Details)
		}
		return nil, malformed.WithCause(err)
	}
	return msg, nil
}
