package api

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the HMAC-SHA256 of the request body on signed
// event posts, either as "sha256=<hex>" or plain hex.
const SignatureHeader = "X-Hub-Signature-256"

var errSignature = errors.New("signature verification failed")

// signatureMiddleware authenticates a request by its body signature instead
// of a bearer token. The body is buffered and restored for the handler.
func (s *Server) signatureMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
		if err != nil {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		if err := verifySignature(body, r.Header.Get(SignatureHeader), s.config.EventSecret); err != nil {
			s.logger.Warn("rejected signed event", "remote", r.RemoteAddr)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// verifySignature compares in constant time. Every failure returns the
// same error.
func verifySignature(body []byte, signature, secret string) error {
	if secret == "" || signature == "" {
		return errSignature
	}
	actual, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return errSignature
	}
	if subtle.ConstantTimeCompare(sign(body, secret), actual) != 1 {
		return errSignature
	}
	return nil
}

func sign(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the SignatureHeader value for body.
func Sign(body []byte, secret string) string {
	return "sha256=" + hex.EncodeToString(sign(body, secret))
}
