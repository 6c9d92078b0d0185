package utils

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxVarBytes bounds a single length-prefixed field to keep a corrupt prefix
// from allocating unbounded memory.
const MaxVarBytes = 1 << 20

type readByte struct {
	in   io.Reader
	read int
}

func (s *readByte) ReadByte() (byte, error) {
	var data [1]byte
	_, err := io.ReadFull(s.in, data[:])
	s.read++
	return data[0], err
}

func ReadVarInt(sr io.Reader) (num int64, n int64, err error) {
	rb := &readByte{in: sr}
	nn, err := binary.ReadVarint(rb)
	return nn, int64(rb.read), err
}

func ReadVarBytes(r io.Reader) (data []byte, varIntLen int, err error) {
	num, n, err := ReadVarInt(r)
	if err != nil {
		return nil, 0, err
	}
	if num < 0 || num > MaxVarBytes {
		return nil, int(n), fmt.Errorf("invalid length prefix %d", num)
	}
	varIntLen = int(n)
	data = make([]byte, num)
	_, err = io.ReadFull(r, data)
	return data, varIntLen, err
}

func writeVarNum(num int64, buf []byte) (data []byte) {
	if len(buf) < binary.MaxVarintLen64 {
		buf = make([]byte, binary.MaxVarintLen64)
	}
	n := binary.PutVarint(buf, num)
	data = buf[:n]
	return
}

func WriteVarBytes(w io.Writer, data []byte) error {
	if err := WriteVarInt(w, int64(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

func WriteVarInt(w io.Writer, num int64) error {
	_, err := w.Write(writeVarNum(num, nil))
	return err
}
