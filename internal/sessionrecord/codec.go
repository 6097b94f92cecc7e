package sessionrecord

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
)

// records start with a magic prefix and a version byte so a format change can
// be told apart from corruption
var magic = []byte("VTREC")

const version byte = 1

var errCorrupt = errors.New("sessionrecord: corrupt record")

func Encode(record Record) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(version)
	if err := gob.NewEncoder(&buf).Encode(record); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) (Record, error) {
	header := len(magic) + 1
	if len(data) < header || !bytes.Equal(data[:len(magic)], magic) {
		return Record{}, fmt.Errorf("%w: bad header", errCorrupt)
	}
	if data[len(magic)] != version {
		return Record{}, fmt.Errorf("%w: unsupported version %d", errCorrupt, data[len(magic)])
	}

	var record Record
	if err := gob.NewDecoder(bytes.NewReader(data[header:])).Decode(&record); err != nil {
		return Record{}, fmt.Errorf("%w: %v", errCorrupt, err)
	}
	if record.Username == "" {
		return Record{}, fmt.Errorf("%w: empty username", errCorrupt)
	}
	return record, nil
}

// IsCorrupt reports whether a Decode error means the stored bytes are unusable.
func IsCorrupt(err error) bool {
	return errors.Is(err, errCorrupt)
}
