package iam

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/logger"
)

// LocalVerifier validates HS256-signed tokens with a shared secret.
// Used in development and tests when no identity service is reachable
// (IAM_MODE=local).
type LocalVerifier struct {
	secret []byte
	logger *logger.Logger
}

// NewLocalVerifier creates an HS256 verifier from the shared secret
func NewLocalVerifier(secret string, log *logger.Logger) (*LocalVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("IAM_LOCAL_JWT_SECRET is required when IAM_MODE=local")
	}

	return &LocalVerifier{
		secret: []byte(secret),
		logger: log.WithComponent("iam_local_verifier"),
	}, nil
}

// VerifyAccessToken parses and validates the token signature and expiry
func (v *LocalVerifier) VerifyAccessToken(ctx context.Context, accessToken string) (*Principal, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return nil, errors.InvalidToken("access token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, errors.InvalidToken("token signature or claims are invalid")
	}

	if claims.Subject == "" {
		return nil, errors.InvalidToken("token has no subject")
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}

	return &Principal{
		SubjectID: claims.Subject,
		TokenID:   claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}
