// Package binrec reads and writes the length-prefixed binary records used by
// the credential and queue files: big-endian prefixes, UTF-8 payloads.
package binrec

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrRecordTooLong is returned when a string exceeds the 16-bit length prefix.
var ErrRecordTooLong = errors.New("binrec: string longer than 65535 bytes")

// WriteString writes a 2-byte big-endian length followed by the bytes of s.
func WriteString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return ErrRecordTooLong
	}
	var prefix [2]byte
	binary.BigEndian.PutUint16(prefix[:], uint16(len(s)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads one length-prefixed string. io.EOF at the prefix means a
// clean end of input; a truncated payload returns io.ErrUnexpectedEOF.
func ReadString(r io.Reader) (string, error) {
	var prefix [2]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	buf := make([]byte, binary.BigEndian.Uint16(prefix[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return string(buf), nil
}

// WriteBytes writes a 4-byte big-endian length followed by b.
func WriteBytes(w io.Writer, b []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// ReadBytes reads one 4-byte length-prefixed byte record.
func ReadBytes(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	buf := make([]byte, binary.BigEndian.Uint32(prefix[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf, nil
}

// WriteBool writes one byte, 1 for true.
func WriteBool(w io.Writer, v bool) error {
	b := [1]byte{0}
	if v {
		b[0] = 1
	}
	_, err := w.Write(b[:])
	return err
}

// ReadBool reads one byte written by WriteBool.
func ReadBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// WriteStrings writes a 4-byte count followed by each string as a record.
func WriteStrings(w io.Writer, ss []string) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(ss)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	for _, s := range ss {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	return nil
}

// ReadStrings reads a slice written by WriteStrings.
func ReadStrings(r io.Reader) ([]string, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := ReadString(r)
		if err != nil {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
