package auth

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/notevault/notevault/internal/remote"
)

// Prompter supplies interactive input during login. Implementations
// must be safe to call from the main goroutine only.
type Prompter interface {
	// Credentials asks for a username and password.
	Credentials(ctx context.Context) (username, password string, err error)

	// OneTimeCode asks for a second-factor code. The hint describes
	// where the service delivered it, e.g. a masked phone number.
	OneTimeCode(ctx context.Context, hint string) (string, error)
}

// Flow drives authentication against a user store. Credentials given
// up front are used as-is; missing ones are requested through the
// prompter. A nil prompter makes interactive steps fail instead of
// hanging, which is what non-interactive callers want.
type Flow struct {
	users    remote.UserStore
	prompter Prompter
	logger   *log.Logger
}

// NewFlow creates an authentication flow.
func NewFlow(users remote.UserStore, prompter Prompter, logger *log.Logger) *Flow {
	if logger == nil {
		logger = log.New(os.Stderr, "[auth] ", log.LstdFlags)
	}
	return &Flow{users: users, prompter: prompter, logger: logger}
}

// Login performs the password login flow and returns the long-session
// token. Empty username or password are collected interactively. When
// the account has a second factor enabled, the one-time code is
// requested and the temporary token upgraded; a wrong code fails the
// login, it is not retried.
func (f *Flow) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		if f.prompter == nil {
			return "", fmt.Errorf("username and password are required when no prompt is available")
		}
		var err error
		username, password, err = f.prompter.Credentials(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read credentials: %w", err)
		}
	}

	res, err := f.users.AuthenticateLongSession(ctx, username, password)
	if err != nil {
		return "", err
	}

	if res.SecondFactorRequired {
		if f.prompter == nil {
			return "", fmt.Errorf("account requires a one-time code but no prompt is available")
		}
		f.logger.Printf("Two-factor authentication required (%s)", res.SecondFactorHint)

		code, err := f.prompter.OneTimeCode(ctx, res.SecondFactorHint)
		if err != nil {
			return "", fmt.Errorf("failed to read one-time code: %w", err)
		}
		res, err = f.users.CompleteTwoFactorAuth(ctx, res.Token, code)
		if err != nil {
			return "", err
		}
	}

	if res.Token == "" {
		return "", fmt.Errorf("%w: service returned no token", remote.ErrAuthFailed)
	}
	return res.Token, nil
}

// CompleteOAuth exchanges an authorized temporary OAuth token for a
// long-session token. Used by accounts that sign in through an
// identity provider and cannot do password login.
func (f *Flow) CompleteOAuth(ctx context.Context, tempToken, verifier string) (string, error) {
	token, err := f.users.ExchangeOAuth(ctx, tempToken, verifier)
	if err != nil {
		return "", err
	}
	return token, nil
}

// Validate checks a stored token: first locally (format and expiry,
// no network), then against the service. It returns the account the
// token belongs to.
func (f *Flow) Validate(ctx context.Context, token string) (remote.AccountInfo, error) {
	parsed, err := ParseToken(token)
	if err != nil {
		return remote.AccountInfo{}, err
	}
	if parsed.IsExpired(time.Now()) {
		return remote.AccountInfo{}, fmt.Errorf("token expired %s: %w",
			parsed.ExpiresAt.Format(time.RFC3339), remote.ErrTokenExpired)
	}

	info, err := f.users.GetAccountInfo(ctx)
	if err != nil {
		return remote.AccountInfo{}, err
	}
	return info, nil
}
