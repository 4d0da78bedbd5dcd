package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/harun/toolgate/pkg/toolregistry"
)

const (
	maxAuthAttempts = 3
	// DefaultChallengeTTL bounds how long a challenge can be answered.
	DefaultChallengeTTL = time.Minute
)

// SignChallenge computes the auth.response signature: hex HMAC-SHA256 of
// the challenge and caller id keyed by the shared secret.
func SignChallenge(secret, challenge, callerID string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(challenge))
	h.Write([]byte{'\n'})
	h.Write([]byte(callerID))
	return hex.EncodeToString(h.Sum(nil))
}

// AuthHandler runs the WebSocket challenge-response handshake and checks
// the shared secret on HTTP requests.
type AuthHandler struct {
	sharedSecret string
	challengeTTL time.Duration
	now          func() time.Time
}

// NewAuthHandler creates an AuthHandler with DefaultChallengeTTL.
func NewAuthHandler(sharedSecret string) *AuthHandler {
	return &AuthHandler{
		sharedSecret: sharedSecret,
		challengeTTL: DefaultChallengeTTL,
		now:          time.Now,
	}
}

// IssueChallenge stores a fresh random challenge on client.
func (a *AuthHandler) IssueChallenge(client *Client) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	challenge := hex.EncodeToString(buf)

	client.Challenge = challenge
	client.ChallengeIssuedAt = a.now()
	client.State = StateAuthenticating
	return challenge, nil
}

// VerifySecret checks the shared secret sent by HTTP clients.
func (a *AuthHandler) VerifySecret(secret string) bool {
	if a.sharedSecret == "" || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a.sharedSecret), []byte(secret)) == 1
}

// HandleAuthResponse checks resp against the client's pending challenge.
// The caller comes from the upgrade request header or, failing that, from
// resp; a response naming a different caller than the header is rejected.
// On success it also returns the resolved caller id.
func (a *AuthHandler) HandleAuthResponse(client *Client, resp AuthResponse) (AuthResult, string) {
	if client.Challenge == "" {
		return authFailure("No challenge found"), ""
	}
	if a.challengeTTL > 0 && a.now().Sub(client.ChallengeIssuedAt) > a.challengeTTL {
		client.Challenge = ""
		return authFailure("Challenge expired"), ""
	}

	caller := client.CallerID
	if caller == "" {
		caller = resp.CallerID
	} else if resp.CallerID != "" && resp.CallerID != caller {
		client.AuthAttempts++
		return a.rejected(client, "Caller does not match connection"), ""
	}
	if caller == "" {
		return authFailure("Caller id required"), ""
	}

	expected := SignChallenge(a.sharedSecret, client.Challenge, caller)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(resp.Signature)) != 1 {
		client.AuthAttempts++
		return a.rejected(client, "Invalid signature"), ""
	}

	client.setAuthenticated(true)
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""

	return AuthResult{
		Event:    "auth.success",
		Success:  true,
		CallerID: toolregistry.MaskCallerID(caller),
	}, caller
}

func (a *AuthHandler) rejected(client *Client, message string) AuthResult {
	if client.AuthAttempts >= maxAuthAttempts {
		return authFailure("Too many failed attempts")
	}
	return authFailure(message)
}

func authFailure(message string) AuthResult {
	return AuthResult{Event: "auth.failure", Message: message}
}
