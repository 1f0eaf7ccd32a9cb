// Package token issues and verifies stateless signed tokens.
//
// A token is the base64url (unpadded) encoding of
//
//	version   1 byte (=1)
//	expiresAt 8 bytes, big endian unix seconds
//	count     uvarint number of payload fields
//	fields    uvarint key length, key, uvarint value length, value
//	          (keys strictly ascending)
//	signature 32 bytes HMAC-SHA256 over every preceding byte
//
// Every field is length prefixed, so no payload value can forge a field
// boundary, and the expiry is covered by the signature.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/domain"
)

const (
	formatVersion  = 1
	signatureSize  = sha256.Size
	headerSize     = 1 + 8
	maxFields      = 32
	maxKeyBytes    = 64
	maxValueBytes  = 1024
	maxTokenLength = 8 * 1024
)

var (
	// ErrInvalid is returned for any token that fails decoding, signature
	// verification, or expiry. Callers must not distinguish further when
	// answering clients.
	ErrInvalid = errors.New("invalid token")

	// ErrExpired is the [ErrInvalid] flavor for well-formed, correctly
	// signed tokens past their expiry.
	ErrExpired = fmt.Errorf("%w: expired", ErrInvalid)

	// ErrInvalidTTL is returned when issuing with a non-positive lifetime.
	ErrInvalidTTL = errors.New("token ttl must be positive")

	// ErrPayload is returned when issuing a payload that cannot be encoded.
	ErrPayload = errors.New("invalid token payload")
)

var encoding = base64.RawURLEncoding.Strict()

// Payload is the signed content of a token.
type Payload map[string]string

// Claims is a verified token's payload and expiry.
type Claims struct {
	Payload   Payload
	ExpiresAt time.Time
}

// Sign computes the HMAC-SHA256 signature of payload and expiry.
func Sign(p Payload, expiresAt int64, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty token secret", domain.ErrConfig)
	}
	body, err := encodeBody(p, expiresAt)
	if err != nil {
		return nil, err
	}
	return mac(secret, body), nil
}

// Issue signs p with an expiry ttl from now and returns the opaque token.
func Issue(p Payload, ttl time.Duration, secret []byte) (string, error) {
	tok, _, err := IssueAt(p, ttl, secret, time.Now())
	return tok, err
}

// IssueAt is [Issue] with an explicit issuance time. It also returns the
// expiry embedded in the token.
func IssueAt(p Payload, ttl time.Duration, secret []byte, now time.Time) (string, time.Time, error) {
	if len(secret) == 0 {
		return "", time.Time{}, fmt.Errorf("%w: empty token secret", domain.ErrConfig)
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrInvalidTTL
	}
	expiresAt := now.Add(ttl).Unix()
	body, err := encodeBody(p, expiresAt)
	if err != nil {
		return "", time.Time{}, err
	}
	raw := append(body, mac(secret, body)...)
	return encoding.EncodeToString(raw), time.Unix(expiresAt, 0), nil
}

// Verify checks token against secret at the current time and returns its
// payload.
func Verify(token string, secret []byte) (Payload, error) {
	c, err := VerifyAt(token, secret, time.Now())
	if err != nil {
		return nil, err
	}
	return c.Payload, nil
}

// VerifyAt is [Verify] evaluated at now. A token expiring at E is valid for
// every instant up to and including E.
func VerifyAt(token string, secret []byte, now time.Time) (Claims, error) {
	if len(secret) == 0 {
		return Claims{}, fmt.Errorf("%w: empty token secret", domain.ErrConfig)
	}
	if len(token) == 0 || len(token) > maxTokenLength || !isTokenAlphabet(token) {
		return Claims{}, ErrInvalid
	}
	raw, err := encoding.DecodeString(token)
	if err != nil || len(raw) < headerSize+1+signatureSize {
		return Claims{}, ErrInvalid
	}
	body, sig := raw[:len(raw)-signatureSize], raw[len(raw)-signatureSize:]
	if !auth.Equal(mac(secret, body), sig) {
		return Claims{}, ErrInvalid
	}
	p, expiresAt, err := decodeBody(body)
	if err != nil {
		return Claims{}, ErrInvalid
	}
	exp := time.Unix(expiresAt, 0)
	if now.After(exp) {
		return Claims{}, ErrExpired
	}
	return Claims{Payload: p, ExpiresAt: exp}, nil
}

func mac(secret, body []byte) []byte {
	h := hmac.New(sha256.New, secret)
	_, _ = h.Write(body)
	return h.Sum(nil)
}

func encodeBody(p Payload, expiresAt int64) ([]byte, error) {
	if len(p) > maxFields {
		return nil, fmt.Errorf("%w: %d fields exceeds %d", ErrPayload, len(p), maxFields)
	}
	keys := make([]string, 0, len(p))
	size := headerSize + binary.MaxVarintLen64
	for k, v := range p {
		if k == "" || len(k) > maxKeyBytes {
			return nil, fmt.Errorf("%w: key length must be 1-%d bytes", ErrPayload, maxKeyBytes)
		}
		if len(v) > maxValueBytes {
			return nil, fmt.Errorf("%w: value for %q exceeds %d bytes", ErrPayload, k, maxValueBytes)
		}
		keys = append(keys, k)
		size += 2*binary.MaxVarintLen16 + len(k) + len(v)
	}
	slices.Sort(keys)

	buf := make([]byte, 0, size+signatureSize)
	buf = append(buf, formatVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(expiresAt))
	buf = binary.AppendUvarint(buf, uint64(len(keys)))
	for _, k := range keys {
		buf = appendField(buf, k)
		buf = appendField(buf, p[k])
	}
	return buf, nil
}

func appendField(buf []byte, v string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(v)))
	return append(buf, v...)
}

func decodeBody(b []byte) (Payload, int64, error) {
	if len(b) < headerSize+1 || b[0] != formatVersion {
		return nil, 0, ErrInvalid
	}
	expiresAt := int64(binary.BigEndian.Uint64(b[1:headerSize]))
	rest := b[headerSize:]

	count, n := binary.Uvarint(rest)
	if n <= 0 || count > maxFields {
		return nil, 0, ErrInvalid
	}
	rest = rest[n:]

	p := make(Payload, count)
	prev := ""
	for i := uint64(0); i < count; i++ {
		var key, value string
		var ok bool
		if key, rest, ok = readField(rest, maxKeyBytes); !ok || key == "" {
			return nil, 0, ErrInvalid
		}
		if i > 0 && key <= prev {
			return nil, 0, ErrInvalid
		}
		if value, rest, ok = readField(rest, maxValueBytes); !ok {
			return nil, 0, ErrInvalid
		}
		p[key] = value
		prev = key
	}
	if len(rest) != 0 {
		return nil, 0, ErrInvalid
	}
	return p, expiresAt, nil
}

func readField(b []byte, limit int) (string, []byte, bool) {
	l, n := binary.Uvarint(b)
	if n <= 0 || l > uint64(limit) || uint64(len(b)-n) < l {
		return "", nil, false
	}
	end := n + int(l)
	return string(b[n:end]), b[end:], true
}

// isTokenAlphabet rejects anything outside the base64url alphabet, including
// the CR/LF the stdlib decoder would otherwise skip.
func isTokenAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
