package queue

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pigeonpost/go-pigeon/log"
	"github.com/pigeonpost/go-pigeon/mail"
)

// fileFormatVersion is the first byte of a queue file. Bump it when the
// record layout changes; older files are then discarded rather than
// misparsed.
const fileFormatVersion = 1

// Store persists the queue state across restarts.
type Store interface {
	Save(State) error
	Load() (State, error)
}

// FileStore keeps each queue in its own binary file under dir.
type FileStore struct {
	incomingPath string
	outgoingPath string
	log          log.Logger
}

// NewFileStore persists to dir/incoming.dat and dir/outgoing.dat, creating
// dir when needed.
func NewFileStore(dir string, l log.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileStore{
		incomingPath: filepath.Join(dir, "incoming.dat"),
		outgoingPath: filepath.Join(dir, "outgoing.dat"),
		log:          l,
	}, nil
}

func (fs *FileStore) Save(state State) error {
	if err := writeQueueFile(fs.incomingPath, func(w io.Writer) error {
		return writeIncoming(w, state.Incoming)
	}); err != nil {
		return err
	}
	return writeQueueFile(fs.outgoingPath, func(w io.Writer) error {
		return writeOutgoing(w, state.Outgoing)
	})
}

func writeQueueFile(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)

	_, err = w.Write([]byte{fileFormatVersion})
	if err == nil {
		err = write(w)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads both queue files back. A missing file yields an empty queue; a
// corrupt one is logged, discarded and also yields an empty queue, so a bad
// shutdown can never wedge startup. The files are independent, so corruption
// in one leaves the other queue's entries intact.
func (fs *FileStore) Load() (State, error) {
	var state State
	err := fs.loadQueueFile(fs.incomingPath, func(r io.Reader) error {
		entries, err := readIncoming(r)
		if err != nil {
			return err
		}
		state.Incoming = entries
		return nil
	})
	if err != nil {
		return State{}, err
	}
	err = fs.loadQueueFile(fs.outgoingPath, func(r io.Reader) error {
		envs, err := readOutgoing(r)
		if err != nil {
			return err
		}
		state.Outgoing = envs
		return nil
	})
	if err != nil {
		return State{}, err
	}
	return state, nil
}

func (fs *FileStore) loadQueueFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	err = readVersion(r)
	if err == nil {
		err = read(r)
	}
	if err != nil {
		fs.log.WithError(err).Error("discarding corrupt queue file ", path)
	}
	return nil
}

func readVersion(r io.Reader) error {
	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return err
	}
	if version[0] != fileFormatVersion {
		return fmt.Errorf("queue: unknown file format version %d", version[0])
	}
	return nil
}

func writeCount(w io.Writer, n int) error {
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(n))
	_, err := w.Write(count[:])
	return err
}

func readCount(r io.Reader) (uint32, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(count[:]), nil
}

func writeIncoming(w io.Writer, entries []LocalEntry) error {
	if err := writeCount(w, len(entries)); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeLocalEntry(w, e); err != nil {
			return err
		}
	}
	return nil
}

func readIncoming(r io.Reader) ([]LocalEntry, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	var entries []LocalEntry
	for i := uint32(0); i < n; i++ {
		e, err := readLocalEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func writeOutgoing(w io.Writer, envs []*mail.Envelope) error {
	if err := writeCount(w, len(envs)); err != nil {
		return err
	}
	for _, env := range envs {
		if err := writeEnvelope(w, env); err != nil {
			return err
		}
	}
	return nil
}

func readOutgoing(r io.Reader) ([]*mail.Envelope, error) {
	n, err := readCount(r)
	if err != nil {
		return nil, err
	}
	var envs []*mail.Envelope
	for i := uint32(0); i < n; i++ {
		env, err := readEnvelope(r)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// encodeState packs both queues into one blob. The redis store keeps them
// under a single key so the SET stays atomic.
func encodeState(state State) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(fileFormatVersion)
	if err := writeIncoming(&buf, state.Incoming); err != nil {
		return nil, err
	}
	if err := writeOutgoing(&buf, state.Outgoing); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeState(b []byte) (State, error) {
	r := bytes.NewReader(b)
	if err := readVersion(r); err != nil {
		return State{}, err
	}
	var state State
	var err error
	if state.Incoming, err = readIncoming(r); err != nil {
		return State{}, err
	}
	if state.Outgoing, err = readOutgoing(r); err != nil {
		return State{}, err
	}
	return state, nil
}
