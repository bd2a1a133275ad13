package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const capabilityClaim = "x-ably-capability"

var ErrInvalidToken = errors.New("invalid push token")

// TokenIssuer mints and verifies HS256 push tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Channels lists the channels a user key may subscribe to.
func Channels(key string) []string {
	return []string{MySegmentsChannel(key), SplitsChannel, ControlPrimaryChannel, ControlSecondaryChannel}
}

// Mint issues a token granting the channels of key.
func (ti *TokenIssuer) Mint(key string) (string, error) {
	capability := make(map[string][]string)
	for _, ch := range Channels(key) {
		perms := []string{"subscribe"}
		if ch == ControlPrimaryChannel || ch == ControlSecondaryChannel {
			perms = append(perms, "channel-metadata:publishers")
		}
		capability[ch] = perms
	}
	encoded, err := json.Marshal(capability)
	if err != nil {
		return "", fmt.Errorf("encoding capability: %w", err)
	}

	now := ti.now()
	claims := jwt.MapClaims{
		capabilityClaim:   string(encoded),
		"x-ably-clientId": key,
		"iat":             now.Unix(),
		"exp":             now.Add(ti.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and lifetime of a token and returns the
// channels it grants.
func (ti *TokenIssuer) Verify(raw string) (map[string]bool, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return ti.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(ti.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	capability, ok := claims[capabilityClaim].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidToken, capabilityClaim)
	}
	var byChannel map[string][]string
	if err := json.Unmarshal([]byte(capability), &byChannel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	granted := make(map[string]bool, len(byChannel))
	for ch := range byChannel {
		granted[ch] = true
	}
	return granted, nil
}
