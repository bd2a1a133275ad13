package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/flagsync/internal/api"
)

// CapabilityClaim lists the channels a push token may subscribe to, as a
// JSON object keyed by channel name.
const CapabilityClaim = "x-ably-capability"

// AuthClient is the subset of the REST client used for authentication
type AuthClient interface {
	Authenticate(ctx context.Context, userKey string) (*api.AuthResponse, error)
}

type AuthResult struct {
	Token      string
	Channels   []string
	IssuedAt   time.Time
	Expiration time.Time
}

type Authenticator struct {
	client  AuthClient
	userKey string
	logger  *zap.Logger
}

func NewAuthenticator(client AuthClient, userKey string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{client: client, userKey: userKey, logger: logger}
}

// Authenticate obtains a push token. It returns ErrStreamingDisabled when
// the authority does not allow push for this key.
func (a *Authenticator) Authenticate(ctx context.Context) (*AuthResult, error) {
	resp, err := a.client.Authenticate(ctx, a.userKey)
	if err != nil {
		return nil, err
	}
	if !resp.PushEnabled {
		return nil, ErrStreamingDisabled
	}

	result, err := ParseToken(resp.Token)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("push token obtained",
		zap.Strings("channels", result.Channels),
		zap.Time("expires", result.Expiration))
	return result, nil
}

// ParseToken reads the channels and lifetime of a push token. The signature
// is not checked; only the authority can verify it.
func ParseToken(raw string) (*AuthResult, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	capability, ok := claims[CapabilityClaim].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, CapabilityClaim)
	}

	var byChannel map[string][]string
	if err := json.Unmarshal([]byte(capability), &byChannel); err != nil {
		return nil, fmt.Errorf("%w: decoding capability: %v", ErrInvalidToken, err)
	}
	if len(byChannel) == 0 {
		return nil, fmt.Errorf("%w: token grants no channels", ErrInvalidToken)
	}

	channels := make([]string, 0, len(byChannel))
	for ch := range byChannel {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	result := &AuthResult{Token: raw, Channels: channels}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		result.Expiration = exp.Time
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		result.IssuedAt = iat.Time
	}

	return result, nil
}
