// Package wal implements the jsondb write-ahead log: an append-only
// sequence of committed mutations, flushed before acknowledgement and
// truncated after a successful snapshot.
//
// On-disk frame format: [4-byte big-endian length][JSON payload][8-byte
// big-endian xxh3-64 checksum of the payload]. A frame whose length or
// checksum does not fit in the remaining bytes is treated as a crash-torn
// tail - this models a process crash mid-append, per spec §4.4.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/zeebo/xxh3"

	"github.com/jsondb/jsondb/pkg/fs"
)

// ErrCorrupt names a frame checksum mismatch. [WAL.Replay] does not return
// it: a frame that fails its checksum is treated like a short/truncated
// tail, as the crash boundary, and ends replay without an error.
var ErrCorrupt = errors.New("wal: frame checksum mismatch")

const lengthPrefixSize = 4
const checksumSize = 8

// OpKind tags a WAL entry as a Set or a Delete.
type OpKind string

const (
	OpSet    OpKind = "set"
	OpDelete OpKind = "delete"
)

// Op is the mutation payload carried by a [Entry].
type Op struct {
	Kind  OpKind          `json:"kind"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Entry is one committed mutation record.
type Entry struct {
	Seq uint64 `json:"seq"`
	Op  Op     `json:"op"`
}

// WAL manages the append-only log file backing one engine instance.
type WAL struct {
	file    fs.File
	nextSeq uint64
}

// Open opens (creating if missing) the WAL file at path using fsys.
func Open(fsys fs.FS, path string) (*WAL, error) {
	file, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open %q: %w", path, err)
	}

	return &WAL{file: file, nextSeq: 1}, nil
}

// Append writes entry with the next sequence number, flushing and syncing
// the file before returning, per the append protocol in spec §4.4. Returns
// the sequence number assigned.
func (w *WAL) Append(op Op) (uint64, error) {
	entry := Entry{Seq: w.nextSeq, Op: op}

	payload, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("wal: encoding entry: %w", err)
	}

	frame := make([]byte, lengthPrefixSize+len(payload)+checksumSize)
	binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)
	binary.BigEndian.PutUint64(frame[lengthPrefixSize+len(payload):], xxh3.Hash(payload))

	if _, err := w.file.Write(frame); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return 0, fmt.Errorf("wal: sync: %w", err)
	}

	seq := w.nextSeq
	w.nextSeq++

	return seq, nil
}

// Replay reads every well-formed entry from the beginning of the file, in
// order, calling handler for each. Malformed trailing data - a short read,
// a length exceeding the remaining bytes, or a checksum mismatch - is
// silently treated as the crash boundary and stops replay without error.
func (w *WAL) Replay(handler func(Entry) error) error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	data, err := io.ReadAll(w.file)
	if err != nil {
		return fmt.Errorf("wal: read: %w", err)
	}

	offset := 0

	for offset < len(data) {
		payload, consumed, ok := readFrame(data[offset:])
		if !ok {
			break
		}

		offset += consumed

		var entry Entry

		if err := json.Unmarshal(payload, &entry); err != nil {
			break
		}

		if entry.Seq >= w.nextSeq {
			w.nextSeq = entry.Seq + 1
		}

		if err := handler(entry); err != nil {
			return fmt.Errorf("wal: handler: %w", err)
		}
	}

	return nil
}

// readFrame parses one frame from the head of data. ok is false if data
// does not contain a complete, checksum-valid frame - the crash-torn-tail
// case spec §4.4 calls out.
func readFrame(data []byte) (payload []byte, consumed int, ok bool) {
	if len(data) < lengthPrefixSize {
		return nil, 0, false
	}

	length := int(binary.BigEndian.Uint32(data[:lengthPrefixSize]))
	frameSize := lengthPrefixSize + length + checksumSize

	if length < 0 || frameSize > len(data) {
		return nil, 0, false
	}

	payload = data[lengthPrefixSize : lengthPrefixSize+length]
	wantSum := binary.BigEndian.Uint64(data[lengthPrefixSize+length : frameSize])

	if xxh3.Hash(payload) != wantSum {
		return nil, 0, false
	}

	return payload, frameSize, true
}

// Size returns the current size of the WAL file in bytes.
func (w *WAL) Size() (int64, error) {
	info, err := w.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("wal: stat: %w", err)
	}

	return info.Size(), nil
}

// Truncate empties the log and resets the sequence counter to one, per
// spec §3 ("Sequence numbers ... reset to one after each successful
// snapshot"). Only the snapshot writer may call this, and only after the
// snapshot rename has completed.
func (w *WAL) Truncate() error {
	fd := int(w.file.Fd())

	if err := syscall.Ftruncate(fd, 0); err != nil {
		return fmt.Errorf("wal: ftruncate: %w", err)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek after truncate: %w", err)
	}

	w.nextSeq = 1

	return nil
}

// Close closes the underlying file.
func (w *WAL) Close() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("wal: close: %w", err)
	}

	return nil
}

// NextSeq returns the sequence number that will be assigned to the next
// appended entry.
func (w *WAL) NextSeq() uint64 { return w.nextSeq }
