// Package playback issues and checks the short-lived tokens that gate HLS
// manifests and segments.
package playback

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken    = errors.New("playback token missing")
	ErrMalformedURI    = errors.New("malformed playback uri")
	ErrInvalidToken    = errors.New("playback token invalid")
	ErrExpiredToken    = errors.New("playback token expired")
	ErrSubjectMismatch = errors.New("playback token issued for another track")
)

// StreamPathPrefix is the first path segment of every playback URL.
const StreamPathPrefix = "/stream/"

var signingMethod = jwt.SigningMethodHS256

// Option customises an Issuer or Verifier.
type Option func(*clock)

type clock struct {
	now func() time.Time
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *clock) { c.now = now }
}

func newClock(opts []Option) clock {
	c := clock{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Issuer signs {sub: trackID, exp: now+ttl} tokens.
type Issuer struct {
	clock
	secret  []byte
	ttl     time.Duration
	baseURL string
}

func NewIssuer(secret string, ttl time.Duration, baseURL string, opts ...Option) *Issuer {
	return &Issuer{clock: newClock(opts), secret: []byte(secret), ttl: ttl, baseURL: strings.TrimRight(baseURL, "/")}
}

// Issue returns a token for trackID and its expiry.
func (i *Issuer) Issue(trackID string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   trackID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign playback token: %w", err)
	}
	return signed, exp, nil
}

// PlaybackURL is the public manifest URL of trackID with a fresh token.
func (i *Issuer) PlaybackURL(trackID string) (string, time.Time, error) {
	token, exp, err := i.Issue(trackID)
	if err != nil {
		return "", time.Time{}, err
	}
	return i.baseURL + ManifestPath(trackID) + "?token=" + url.QueryEscape(token), exp, nil
}

// ManifestPath is the path of a track's manifest.
func ManifestPath(trackID string) string {
	return StreamPathPrefix + url.PathEscape(trackID) + "/playlist.m3u8"
}

// Verifier checks tokens against the track named in the request path.
type Verifier struct {
	clock
	secret []byte
}

func NewVerifier(secret string, opts ...Option) *Verifier {
	return &Verifier{clock: newClock(opts), secret: []byte(secret)}
}

// Verify accepts token only if it is signed with the shared secret, has not
// expired and names trackID as its subject.
func (v *Verifier) Verify(token, trackID string) error {
	if token == "" {
		return ErrMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", ErrInvalidToken, ErrExpiredToken)
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject != trackID {
		return ErrSubjectMismatch
	}
	return nil
}

// ParseURI pulls the track id and token out of a proxied request URI such as
// "/stream/<trackID>/segment_001.ts?token=...".
func ParseURI(raw string) (trackID, token string, err error) {
	if raw == "" {
		return "", "", ErrMalformedURI
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}
	trackID, _, err = SplitStreamPath(u.Path)
	if err != nil {
		return "", "", err
	}
	return trackID, u.Query().Get("token"), nil
}

// SplitStreamPath splits "/stream/<trackID>/<file>" into its parts.
func SplitStreamPath(p string) (trackID, file string, err error) {
	rest, ok := strings.CutPrefix(p, StreamPathPrefix)
	if !ok {
		return "", "", ErrMalformedURI
	}
	trackID, file, ok = strings.Cut(rest, "/")
	if !ok || trackID == "" || file == "" || strings.Contains(file, "/") || file == "." || file == ".." {
		return "", "", ErrMalformedURI
	}
	return trackID, file, nil
}

// VerifyURI runs Verify on what ParseURI finds and returns the bound track id.
func (v *Verifier) VerifyURI(raw string) (string, error) {
	trackID, token, err := ParseURI(raw)
	if err != nil {
		return "", err
	}
	if err := v.Verify(token, trackID); err != nil {
		return "", err
	}
	return trackID, nil
}
