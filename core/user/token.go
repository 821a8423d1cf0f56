package user

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/trezcool/elimu/core"
)

var (
	tokenSalt  = []byte("elimu.core.user.password_reset")
	tokenEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)
	b32        = base32.StdEncoding.WithPadding(base32.NoPadding)

	// errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

// EncodeUID encodes the user's ID for use in password reset links.
func EncodeUID(usr User) string {
	return base64.RawURLEncoding.EncodeToString([]byte(usr.ID))
}

func DecodeUID(uid string) (string, error) {
	id, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil {
		return "", err
	}
	return string(id), nil
}

// MakeToken generates a password reset token for the user.
// The token stops verifying once the user's password or last login changes.
func MakeToken(usr User) string {
	return makeTokenWithDay(usr, daysSinceEpoch(core.Now()))
}

// VerifyToken checks that token was issued for usr and has not expired.
func VerifyToken(usr User, token string) error {
	parts := strings.SplitN(token, "-", 2)
	if len(parts) != 2 {
		return ErrInvalidToken
	}
	raw, err := b32.DecodeString(parts[0])
	if err != nil {
		return ErrInvalidToken
	}
	day, err := strconv.Atoi(string(raw))
	if err != nil {
		return ErrInvalidToken
	}

	if subtle.ConstantTimeCompare([]byte(makeTokenWithDay(usr, day)), []byte(token)) == 0 {
		return ErrInvalidToken
	}

	maxDays := int(core.Conf.PasswordResetTimeout / (24 * time.Hour))
	if daysSinceEpoch(core.Now())-day > maxDays {
		return ErrTokenExpired
	}
	return nil
}

func makeTokenWithDay(usr User, day int) string {
	return b32.EncodeToString([]byte(strconv.Itoa(day))) + "-" + sign(tokenValue(usr, day))
}

func daysSinceEpoch(t time.Time) int {
	return int(t.Sub(tokenEpoch).Hours() / 24)
}

func sign(val []byte) string {
	key := sha256.Sum256(append(append([]byte{}, tokenSalt...), core.Conf.SecretKey...))
	h := hmac.New(sha256.New, key[:])
	_, _ = h.Write(val)
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func tokenValue(usr User, day int) []byte {
	var sb strings.Builder
	sb.WriteString(usr.ID)
	sb.Write(usr.PasswordHash)
	if !usr.LastLogin.IsZero() {
		sb.WriteString(usr.LastLogin.UTC().Format(time.RFC3339Nano))
	}
	sb.WriteString(strconv.Itoa(day))
	return []byte(sb.String())
}
