package rtmp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrHandshake = errors.New("rtmp: handshake failed")

const (
	rtmpVersion   = 3
	handshakeSize = 1536
	digestSize    = 32
)

var (
	clientKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'P', 'l', 'a', 'y', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	serverKey = []byte{
		'G', 'e', 'n', 'u', 'i', 'n', 'e', ' ', 'A', 'd', 'o', 'b', 'e', ' ',
		'F', 'l', 'a', 's', 'h', ' ', 'M', 'e', 'd', 'i', 'a', ' ',
		'S', 'e', 'r', 'v', 'e', 'r', ' ',
		'0', '0', '1',
		0xF0, 0xEE, 0xC2, 0x4A, 0x80, 0x68, 0xBE, 0xE8, 0x2E, 0x00, 0xD0, 0xD1,
		0x02, 0x9E, 0x7E, 0x57, 0x6E, 0xEC, 0x5D, 0x2D, 0x29, 0x80, 0x6F, 0xAB,
		0x93, 0xB8, 0xE6, 0x36, 0xCF, 0xEB, 0x31, 0xAE,
	}
	// The partial keys sign C1 and S1, the full keys sign C2 and S2.
	clientPartialKey = clientKey[:30]
	serverPartialKey = serverKey[:36]

	serverVersion = []byte{0x0D, 0x0E, 0x0A, 0x0D}
)

// Digest schemas place the digest offset field at byte 8 or byte 772 of C1.
var digestSchemas = []int{772, 8}

// digestOffset returns where the digest sits for the schema whose offset
// field starts at base.
func digestOffset(buf []byte, base int) int {
	sum := 0
	for _, b := range buf[base : base+4] {
		sum += int(b)
	}
	return sum%728 + base + 4
}

// makeDigest signs buf without the 32 bytes at off. A negative off signs all of buf.
func makeDigest(buf, key []byte, off int) []byte {
	mac := hmac.New(sha256.New, key)
	if off < 0 {
		mac.Write(buf)
	} else {
		mac.Write(buf[:off])
		mac.Write(buf[off+digestSize:])
	}
	return mac.Sum(nil)
}

// findDigest returns the client digest of c1, or nil when c1 carries none,
// in which case the peer expects the plain echo handshake.
func findDigest(c1 []byte) []byte {
	for _, base := range digestSchemas {
		off := digestOffset(c1, base)
		want := makeDigest(c1, clientPartialKey, off)
		if hmac.Equal(c1[off:off+digestSize], want) {
			return c1[off : off+digestSize]
		}
	}
	return nil
}

// Handshake runs the server side of the RTMP handshake: it reads C0+C1,
// answers S0+S1+S2 and consumes C2. Clients signing C1 get the digest
// handshake, all others get the plain echo.
func Handshake(rw io.ReadWriter) error {
	c0c1 := make([]byte, 1+handshakeSize)
	if _, err := io.ReadFull(rw, c0c1); err != nil {
		return fmt.Errorf("%w: read C0+C1: %w", ErrHandshake, err)
	}
	if c0c1[0] != rtmpVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrHandshake, c0c1[0])
	}
	c1 := c0c1[1:]

	out := make([]byte, 1+2*handshakeSize)
	out[0] = rtmpVersion
	s1 := out[1 : 1+handshakeSize]
	s2 := out[1+handshakeSize:]

	var err error
	if digest := findDigest(c1); digest != nil {
		err = complexReply(s1, s2, digest)
	} else {
		err = simpleReply(s1, s2, c1)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	if _, err := rw.Write(out); err != nil {
		return fmt.Errorf("%w: write S0+S1+S2: %w", ErrHandshake, err)
	}
	c2 := make([]byte, handshakeSize)
	if _, err := io.ReadFull(rw, c2); err != nil {
		return fmt.Errorf("%w: read C2: %w", ErrHandshake, err)
	}
	return nil
}

func simpleReply(s1, s2, c1 []byte) error {
	binary.BigEndian.PutUint32(s1, uint32(time.Now().Unix()))
	clear(s1[4:8])
	if _, err := rand.Read(s1[8:]); err != nil {
		return err
	}
	copy(s2, c1)
	return nil
}

func complexReply(s1, s2, clientDigest []byte) error {
	if _, err := rand.Read(s1); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(s1, uint32(time.Now().Unix()))
	copy(s1[4:8], serverVersion)
	off := digestOffset(s1, 8)
	copy(s1[off:], makeDigest(s1, serverPartialKey, off))

	if _, err := rand.Read(s2); err != nil {
		return err
	}
	key := makeDigest(clientDigest, serverKey, -1)
	off = handshakeSize - digestSize
	copy(s2[off:], makeDigest(s2, key, off))
	return nil
}
