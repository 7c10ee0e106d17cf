package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrTokenRevoked = errors.New("refresh token revoked")

// Service issues token pairs and tracks live refresh tokens in Redis under
// refresh:<uid>:<tid>, so logout and rotation can revoke them.
type Service struct {
	jwt   *JWTManager
	redis redis.Cmdable
}

func NewService(jwt *JWTManager, redisClient redis.Cmdable) *Service {
	return &Service{
		jwt:   jwt,
		redis: redisClient,
	}
}

func refreshKey(userID, tokenID string) string {
	return fmt.Sprintf("refresh:%s:%s", userID, tokenID)
}

func (s *Service) GenerateTokens(ctx context.Context, userID, email string) (*TokenPair, error) {
	pair, tokenID, err := s.jwt.GenerateTokenPair(userID, email)
	if err != nil {
		return nil, err
	}

	if err := s.redis.Set(ctx, refreshKey(userID, tokenID), "1", s.jwt.RefreshExpiry()).Err(); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return pair, nil
}

// ConsumeRefreshToken validates and revokes a refresh token, returning the
// account it was issued to. Each refresh token can be used once.
func (s *Service) ConsumeRefreshToken(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.jwt.ValidateRefreshToken(refreshToken)
	if err != nil {
		return "", fmt.Errorf("invalid refresh token: %w", err)
	}

	deleted, err := s.redis.Del(ctx, refreshKey(claims.UserID, claims.TokenID)).Result()
	if err != nil {
		return "", fmt.Errorf("revoking refresh token: %w", err)
	}
	if deleted == 0 {
		return "", ErrTokenRevoked
	}
	return claims.UserID, nil
}

// Logout revokes every refresh token of the account.
func (s *Service) Logout(ctx context.Context, userID string) error {
	iter := s.redis.Scan(ctx, 0, refreshKey(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("revoking refresh token: %w", err)
		}
	}
	return iter.Err()
}

func (s *Service) ValidateAccessToken(token string) (*AccessClaims, error) {
	return s.jwt.ValidateAccessToken(token)
}

func (s *Service) JWT() *JWTManager {
	return s.jwt
}
