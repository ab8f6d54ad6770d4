package relay

import (
	"fmt"
	"io"
	"net"

	"github.com/flynn/noise"
)

// secureCipherSuite is cached package-level since it's immutable and
// reusable, matching crypto.go's defaultCipherSuite.
var secureCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)

// secureConn wraps a session's dialed net.Conn in a Noise NN-pattern
// encrypted channel (relay.Config.Secure), grounded on crypto.go's Noise
// handshake and SealData, trimmed to what a client session needs: it only
// ever seals outgoing frames. The single handshake reply is read with the
// handshake state's ReadMessage before the channel is considered up;
// nothing is decrypted after that.
type secureConn struct {
	net.Conn
	hs  *noise.HandshakeState
	tx  *noise.CipherState
	buf []byte
}

// newSecureConn performs the NN handshake as initiator over conn and
// returns a conn wrapper whose Write seals frames before they reach the
// kernel. conn is used directly for the handshake exchange; callers must
// not also use it for application data afterward.
func newSecureConn(conn net.Conn) (*secureConn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: secureCipherSuite,
		Pattern:     noise.HandshakeNN,
		Initiator:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("secure transport: %w", err)
	}

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("secure transport: handshake write: %w", err)
	}
	if err := WriteFrame(conn, msg); err != nil {
		return nil, fmt.Errorf("secure transport: handshake send: %w", err)
	}

	reply, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("secure transport: handshake reply: %w", err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("secure transport: handshake decode: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return nil, fmt.Errorf("secure transport: handshake did not complete")
	}

	return &secureConn{Conn: conn, hs: hs, tx: cs1}, nil
}

// Write seals b as one Noise ciphertext, length-prefixed, in a single
// underlying Write call.
func (s *secureConn) Write(b []byte) (int, error) {
	sealed, err := s.tx.Encrypt(s.buf[:0], nil, b)
	if err != nil {
		return 0, fmt.Errorf("secure transport: seal: %w", err)
	}
	s.buf = sealed[:0]
	if err := WriteFrame(s.Conn, sealed); err != nil {
		return 0, err
	}
	return len(b), nil
}

// readFrame reads one 4-byte-length-prefixed frame, the counterpart to
// WriteFrame, used only during the handshake exchange above.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
