package token

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	"github.com/koltyakov/arca-edge/internal/auth"
	"github.com/koltyakov/arca-edge/internal/domain"
)

// MinSecretBytes is the shortest secret a [Codec] accepts.
const MinSecretBytes = 32

// Payload field names and purposes used by the edge.
const (
	FieldPurpose = "purpose"
	FieldSubject = "sub"
	FieldBinding = "bind"

	PurposeSession   = "session"
	PurposeChallenge = "otp-verify"
)

const (
	DefaultSessionTTL   = 24 * time.Hour
	DefaultChallengeTTL = 10 * time.Minute
)

// Codec issues and verifies session and challenge tokens under one
// process-wide secret. The secret lives in an encrypted memguard enclave and
// is only decrypted for the duration of a single sign or verify.
type Codec struct {
	secret       *memguard.Enclave
	now          func() time.Time
	sessionTTL   time.Duration
	challengeTTL time.Duration
}

// Option configures a [Codec].
type Option func(*Codec)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) { c.now = now }
}

// WithSessionTTL sets the session token lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(c *Codec) { c.sessionTTL = d }
}

// WithChallengeTTL sets the challenge token lifetime.
func WithChallengeTTL(d time.Duration) Option {
	return func(c *Codec) { c.challengeTTL = d }
}

// Session is a verified session or challenge subject.
type Session struct {
	Subject   string
	ExpiresAt time.Time
}

// NewCodec seals a copy of secret and returns a codec. Secrets shorter than
// [MinSecretBytes] are rejected with [domain.ErrConfig].
func NewCodec(secret []byte, opts ...Option) (*Codec, error) {
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: token secret must be at least %d bytes", domain.ErrConfig, MinSecretBytes)
	}
	c := &Codec{
		now:          time.Now,
		sessionTTL:   DefaultSessionTTL,
		challengeTTL: DefaultChallengeTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sessionTTL <= 0 || c.challengeTTL <= 0 {
		return nil, fmt.Errorf("%w: token lifetimes must be positive", domain.ErrConfig)
	}
	sealed := make([]byte, len(secret))
	copy(sealed, secret)
	c.secret = memguard.NewEnclave(sealed)
	return c, nil
}

// SessionTTL returns the configured session lifetime.
func (c *Codec) SessionTTL() time.Duration { return c.sessionTTL }

// IssueSession returns a session token for subject.
func (c *Codec) IssueSession(subject string) (string, time.Time, error) {
	p := Payload{FieldPurpose: PurposeSession, FieldSubject: subject}
	var tok string
	var exp time.Time
	err := c.withSecret(func(secret []byte) error {
		var err error
		tok, exp, err = IssueAt(p, c.sessionTTL, secret, c.now())
		return err
	})
	return tok, exp, err
}

// VerifySession checks a session token and returns its subject.
func (c *Codec) VerifySession(tok string) (Session, error) {
	claims, err := c.verify(tok, PurposeSession)
	if err != nil {
		return Session{}, err
	}
	return Session{Subject: claims.Payload[FieldSubject], ExpiresAt: claims.ExpiresAt}, nil
}

// IssueChallenge returns a short-lived token binding code to subject. The
// code itself is not recoverable from the token.
func (c *Codec) IssueChallenge(subject, code string) (string, time.Time, error) {
	var tok string
	var exp time.Time
	err := c.withSecret(func(secret []byte) error {
		p := Payload{
			FieldPurpose: PurposeChallenge,
			FieldSubject: subject,
			FieldBinding: codeBinding(secret, subject, code),
		}
		var err error
		tok, exp, err = IssueAt(p, c.challengeTTL, secret, c.now())
		return err
	})
	return tok, exp, err
}

// VerifyChallenge checks a challenge token and the code the user typed.
func (c *Codec) VerifyChallenge(tok, code string) (Session, error) {
	var s Session
	err := c.withSecret(func(secret []byte) error {
		claims, err := verifyPurpose(tok, secret, c.now(), PurposeChallenge)
		if err != nil {
			return err
		}
		subject := claims.Payload[FieldSubject]
		want := codeBinding(secret, subject, strings.TrimSpace(code))
		if !auth.EqualString(claims.Payload[FieldBinding], want) {
			return ErrInvalid
		}
		s = Session{Subject: subject, ExpiresAt: claims.ExpiresAt}
		return nil
	})
	return s, err
}

func (c *Codec) verify(tok, purpose string) (Claims, error) {
	var claims Claims
	err := c.withSecret(func(secret []byte) error {
		var err error
		claims, err = verifyPurpose(tok, secret, c.now(), purpose)
		return err
	})
	return claims, err
}

func (c *Codec) withSecret(fn func(secret []byte) error) error {
	buf, err := c.secret.Open()
	if err != nil {
		return fmt.Errorf("%w: opening token secret enclave: %v", domain.ErrConfig, err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

func verifyPurpose(tok string, secret []byte, now time.Time, purpose string) (Claims, error) {
	claims, err := VerifyAt(tok, secret, now)
	if err != nil {
		return Claims{}, err
	}
	if claims.Payload[FieldPurpose] != purpose || claims.Payload[FieldSubject] == "" {
		return Claims{}, ErrInvalid
	}
	return claims, nil
}

func codeBinding(secret []byte, subject, code string) string {
	body := make([]byte, 0, 16+len(subject)+len(code))
	body = append(body, "otp-bind"...)
	body = binary.AppendUvarint(body, uint64(len(subject)))
	body = append(body, subject...)
	body = append(body, code...)
	return hex.EncodeToString(mac(secret, body))
}
