// Package token mints and validates the scoped bearer tokens a Harness
// passes to its agent-facing CLI (SPEC_FULL.md §4.2, §6). No example in
// the retrieval pack wraps crypto/hmac, so this is stdlib crypto/hmac +
// crypto/subtle rather than an adapted third-party library — see
// DESIGN.md.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"gator/internal/gatorerr"
)

const prefix = "gator_at"

// Scope is the set of claims embedded in and verified against a token.
type Scope struct {
	TaskID  string
	Attempt int
}

// Mint produces a token of the form gator_at_<taskID>_<attempt>_<hmac-hex>,
// where the hmac covers "<taskID>:<attempt>" under secret.
func Mint(secret []byte, scope Scope) (string, error) {
	if len(secret) == 0 {
		return "", gatorerr.ErrMissingSecret
	}
	if scope.TaskID == "" {
		return "", gatorerr.ErrInvalidTaskID
	}
	sig := sign(secret, scope.TaskID, scope.Attempt)
	return fmt.Sprintf("%s_%s_%d_%s", prefix, scope.TaskID, scope.Attempt, sig), nil
}

// Validate parses tok, recomputes its HMAC with secret, and compares in
// constant time. On success it returns the embedded Scope.
func Validate(secret []byte, tok string) (Scope, error) {
	if len(secret) == 0 {
		return Scope{}, gatorerr.ErrMissingSecret
	}
	parts := strings.Split(tok, "_")
	// prefix is itself "gator_at" (two underscore-joined words), so a
	// well-formed token splits into 5 parts: gator, at, taskID, attempt, sig.
	if len(parts) != 5 || parts[0] != "gator" || parts[1] != "at" {
		return Scope{}, gatorerr.ErrInvalidFormat
	}
	taskID := parts[2]
	if taskID == "" {
		return Scope{}, gatorerr.ErrInvalidTaskID
	}
	attempt, err := strconv.Atoi(parts[3])
	if err != nil || attempt < 0 {
		return Scope{}, gatorerr.ErrInvalidAttempt
	}
	want := sign(secret, taskID, attempt)
	got := parts[4]
	if !hmac.Equal([]byte(want), []byte(got)) {
		return Scope{}, gatorerr.ErrHmacMismatch
	}
	return Scope{TaskID: taskID, Attempt: attempt}, nil
}

func sign(secret []byte, taskID string, attempt int) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(taskID))
	mac.Write([]byte{':'})
	mac.Write([]byte(strconv.Itoa(attempt)))
	return hex.EncodeToString(mac.Sum(nil))
}
