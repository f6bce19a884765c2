// Package session gates a device's ability to run recognition: a scanned QR
// token validated against the remote session registry, and for students a
// second-factor numeric code handed out by the teacher.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"classmark/internal/division"
	"classmark/internal/tree"
)

// CodeLength is the number of digits in the second-factor code.
const CodeLength = 4

// Token is the QR wire payload binding a device to a teaching context.
type Token struct {
	QRID string `json:"qrId"`
	division.Tuple
	Subject string `json:"subject"`
	Month   int    `json:"month"`
	Year    int    `json:"year"`
	Day     int    `json:"day"`
}

// ParseToken decodes a scanned payload. A token without a session id is
// rejected outright.
func ParseToken(raw []byte) (Token, error) {
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrSessionInvalid, err)
	}
	if tok.QRID == "" {
		return Token{}, fmt.Errorf("%w: token has no session id", ErrSessionInvalid)
	}
	return tok, nil
}

// Registration is the registry record behind an issued token.
type Registration struct {
	Token
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the registration is still usable.
func (r Registration) Valid(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

func registryPath(qrID string) string { return "sessions/" + qrID }

const codePath = "code/current"

// codeRecord is the single global current-code record.
type codeRecord struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Issue creates a session token for the given context snapshot and registers
// it in the remote tree. Teacher-side operation.
func Issue(ctx context.Context, store tree.Store, div division.Tuple, subject string, month, year, day int, ttl time.Duration) (Registration, error) {
	if store == nil {
		return Registration{}, ErrConnection
	}
	if err := div.Validate(); err != nil {
		return Registration{}, err
	}
	reg := Registration{
		Token: Token{
			QRID:    uuid.NewString(),
			Tuple:   div,
			Subject: subject,
			Month:   month,
			Year:    year,
			Day:     day,
		},
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	if err := store.Set(ctx, registryPath(reg.QRID), reg); err != nil {
		return Registration{}, err
	}
	return reg, nil
}

// IssueCode publishes a fresh second-factor code, replacing any previous one.
// Teacher-side operation; the code travels to students out-of-band.
func IssueCode(ctx context.Context, store tree.Store, ttl time.Duration) (string, error) {
	if store == nil {
		return "", ErrConnection
	}
	code := fmt.Sprintf("%04d", rand.Intn(10000))
	rec := codeRecord{Code: code, ExpiresAt: time.Now().UTC().Add(ttl)}
	if err := store.Set(ctx, codePath, rec); err != nil {
		return "", err
	}
	return code, nil
}
