package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUserDisabled = errors.New("user disabled")
)

// AuthService delegates token verification to the external auth service.
type AuthService struct {
	authURL string
	client  *http.Client
	log     *logrus.Logger
}

type AuthUser struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
	Enabled     bool     `json:"enabled"`
}

func NewAuthService(authURL string, logger *logrus.Logger) *AuthService {
	return &AuthService{
		authURL: authURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: logger,
	}
}

func (u *AuthUser) IsAdmin() bool {
	return slices.Contains(u.Permissions, "admin")
}

// ValidateToken resolves the token through GET {authURL}/users/current.
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*AuthUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/users/current", a.authURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warnf("Auth: request to auth service failed: %v", err)
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode auth user: %w", err)
	}
	if !user.Enabled {
		return nil, ErrUserDisabled
	}
	return &user, nil
}
