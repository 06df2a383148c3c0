package secure

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

const (
	// MaxPlainRecord bounds the plaintext carried by one record on write.
	MaxPlainRecord = 64 * 1024
	// MaxRecord bounds the declared length of an inbound record.
	MaxRecord = 1024 * 1024
)

var ErrRecordTooLarge = errors.New("secure: record too large")

// Conn wraps a net.Conn with the length-prefixed encrypted record layer:
// [len u32 LE][iv][ciphertext], where len covers iv and ciphertext.
type Conn struct {
	net.Conn
	suite  Suite
	cipher recordCipher

	rmu     sync.Mutex
	pending []byte

	wmu sync.Mutex
}

func newConn(raw net.Conn, suite Suite, key []byte) (*Conn, error) {
	rc, err := newRecordCipher(suite, key)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: raw, suite: suite, cipher: rc}, nil
}

func (c *Conn) Suite() Suite { return c.suite }

func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	for len(c.pending) == 0 {
		plain, err := c.readRecord()
		if err != nil {
			return 0, err
		}
		c.pending = plain
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) readRecord() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size > MaxRecord {
		return nil, fmt.Errorf("%w: %d", ErrRecordTooLarge, size)
	}
	ivLen := c.cipher.ivLen()
	if int(size) < ivLen {
		return nil, fmt.Errorf("secure: record shorter than iv: %d", size)
	}
	rec := make([]byte, size)
	if _, err := io.ReadFull(c.Conn, rec); err != nil {
		return nil, err
	}
	return c.cipher.open(rec[:ivLen], rec[ivLen:])
}

func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	written := 0
	for written < len(p) {
		end := written + MaxPlainRecord
		if end > len(p) {
			end = len(p)
		}
		if err := c.writeRecord(p[written:end]); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

func (c *Conn) writeRecord(plain []byte) error {
	ivLen := c.cipher.ivLen()
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return err
	}
	sealed := c.cipher.seal(iv, plain)
	out := make([]byte, 4, 4+ivLen+len(sealed))
	binary.LittleEndian.PutUint32(out, uint32(ivLen+len(sealed)))
	out = append(out, iv...)
	out = append(out, sealed...)
	_, err := c.Conn.Write(out)
	return err
}
