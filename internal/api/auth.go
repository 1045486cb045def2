package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

type credentials struct {
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Password string `json:"password"`
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/auth/login", credentials{Email: email, Password: password}, &out)
	if err != nil {
		return AuthResult{}, fmt.Errorf("login: %w", err)
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, username, email, password string) (AuthResult, error) {
	var out AuthResult
	err := c.do(ctx, http.MethodPost, "/auth/register",
		credentials{Email: email, Username: username, Password: password}, &out)
	if err != nil {
		return AuthResult{}, fmt.Errorf("register: %w", err)
	}
	return out, nil
}

// ResortsByOwner lists the resorts owned by a user. The backend answers with
// either a single document or an array depending on version.
func (c *Client) ResortsByOwner(ctx context.Context, userID string) ([]Resort, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/resort/owner/"+userID, nil, &raw); err != nil {
		return nil, fmt.Errorf("resorts by owner: %w", err)
	}
	var out []Resort
	if err := json.Unmarshal(raw, &out); err == nil {
		return out, nil
	}
	var single Resort
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("resorts by owner: decode: %w", err)
	}
	return []Resort{single}, nil
}
