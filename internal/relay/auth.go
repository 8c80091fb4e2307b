package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignAgentToken is the token an agent presents for userID: hex(HMAC-SHA256(secret, userID)).
func SignAgentToken(secret, userID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

type TokenVerifier struct {
	secret string
}

func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: secret}
}

func (v *TokenVerifier) Verify(userID, token string) bool {
	if userID == "" || token == "" {
		return false
	}
	want := SignAgentToken(v.secret, userID)
	return hmac.Equal([]byte(want), []byte(token))
}
