package kayako

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/koscakluka/ema-support/core/ticketing"
)

const (
	customerRoleID  = 4
	defaultLocaleID = 2
)

type userList struct {
	Data []struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

type userRequest struct {
	FullName  string `json:"full_name"`
	Role      int    `json:"role"`
	Locale    int    `json:"locale"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	IsEnabled bool   `json:"is_enabled"`
}

// Kayako wraps created resources in data; older deployments answer with the
// bare user.
type userResponse struct {
	ID   json.Number `json:"id"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// requester resolves the user a case is filed under. A captured email is
// looked up and created as a customer when Kayako does not know it yet.
// Without an email, or when Kayako rejects the lookup, the configured
// requester is used. Only an unreachable Kayako fails the case.
func (c *Client) requester(ctx context.Context, requester ticketing.Requester) (int, error) {
	if requester.Email == nil || strings.TrimSpace(*requester.Email) == "" {
		return c.requesterID, nil
	}
	email := strings.TrimSpace(*requester.Email)

	id, err := c.findUser(ctx, email)
	if err == nil && id == 0 {
		id, err = c.createUser(ctx, email, requester.PhoneNumber)
	}
	if err != nil {
		if errors.Is(err, ticketing.ErrUnavailable) {
			return 0, err
		}
		logger.WarnContext(ctx, "failed to resolve requester, filing under the default", "error", err)
		return c.requesterID, nil
	}
	return id, nil
}

// findUser returns the id of the user with email, or 0 when there is none.
func (c *Client) findUser(ctx context.Context, email string) (int, error) {
	var users userList
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/users",
		query:  url.Values{"email": {email}},
	}, &users)
	if err != nil {
		return 0, fmt.Errorf("failed to look up requester: %w", err)
	}
	if len(users.Data) == 0 {
		return 0, nil
	}
	return parseID(users.Data[0].ID)
}

func (c *Client) createUser(ctx context.Context, email string, phone *string) (int, error) {
	body := userRequest{
		FullName:  fullName(email),
		Role:      customerRoleID,
		Locale:    defaultLocaleID,
		Email:     email,
		IsEnabled: true,
	}
	if phone != nil {
		body.Phone = *phone
	}

	var created userResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/users", body: body}, &created); err != nil {
		return 0, fmt.Errorf("failed to create requester: %w", err)
	}
	if created.Data.ID != "" {
		return parseID(created.Data.ID)
	}
	return parseID(created.ID)
}

// fullName is the local part of email, the only name a phone call yields.
func fullName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}

func parseID(id json.Number) (int, error) {
	parsed, err := strconv.Atoi(id.String())
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("invalid user id %q", id)
	}
	return parsed, nil
}
