package secure

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

const handshakeFixedLen = 12

var (
	ErrPublicKeyRequired = errors.New("secure: server public key required")
	ErrHandshakeRecord   = errors.New("secure: malformed handshake record")
)

// Handshaker negotiates the record layer on an established connection and
// returns the connection application packets must travel over.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn) (net.Conn, error)
}

// ClientHandshake sends a fresh symmetric key encrypted to the server's RSA
// key as the first record on the connection:
// [encKeyLen u32][keyEncType u32][encType u32][encKey], all little-endian.
type ClientHandshake struct {
	PublicKey *rsa.PublicKey
	Suite     Suite
}

func (h ClientHandshake) Handshake(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if h.PublicKey == nil {
		return nil, ErrPublicKeyRequired
	}
	suite := h.Suite
	if suite == "" {
		suite = SuiteGCM
	}
	key := make([]byte, suite.KeyLen())
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	encKey, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, h.PublicKey, key, nil)
	if err != nil {
		return nil, fmt.Errorf("secure: encrypt key: %w", err)
	}
	rec := make([]byte, handshakeFixedLen, handshakeFixedLen+len(encKey))
	binary.LittleEndian.PutUint32(rec[0:4], uint32(len(encKey)))
	binary.LittleEndian.PutUint32(rec[4:8], KeyEncTypeRSAOAEPSHA1)
	binary.LittleEndian.PutUint32(rec[8:12], suite.EncType())
	rec = append(rec, encKey...)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(rec); err != nil {
		return nil, fmt.Errorf("secure: write handshake: %w", err)
	}
	return newConn(conn, suite, key)
}

// Accept reads a client handshake and returns the server side of the record
// layer. It exists for in-process peers and test fakes.
func Accept(conn net.Conn, key *rsa.PrivateKey) (*Conn, error) {
	var fixed [handshakeFixedLen]byte
	if _, err := io.ReadFull(conn, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRecord, err)
	}
	encLen := binary.LittleEndian.Uint32(fixed[0:4])
	keyEncType := binary.LittleEndian.Uint32(fixed[4:8])
	encType := binary.LittleEndian.Uint32(fixed[8:12])
	if encLen == 0 || encLen > 1024 {
		return nil, fmt.Errorf("%w: key length %d", ErrHandshakeRecord, encLen)
	}
	if keyEncType != KeyEncTypeRSAOAEPSHA1 {
		return nil, fmt.Errorf("%w: key enc type %d", ErrHandshakeRecord, keyEncType)
	}
	suite, err := suiteForEncType(encType)
	if err != nil {
		return nil, err
	}
	encKey := make([]byte, encLen)
	if _, err := io.ReadFull(conn, encKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeRecord, err)
	}
	symKey, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, key, encKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt key: %v", ErrHandshakeRecord, err)
	}
	return newConn(conn, suite, symKey)
}

// ParsePublicKey accepts a PEM "PUBLIC KEY" (PKIX) or "RSA PUBLIC KEY"
// (PKCS#1) block.
func ParsePublicKey(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("secure: no pem block")
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("secure: public key is %T, want rsa", pub)
		}
		return rsaPub, nil
	default:
		return nil, fmt.Errorf("secure: unexpected pem block %q", block.Type)
	}
}

func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secure: read public key (%s): %w", path, err)
	}
	return ParsePublicKey(data)
}
