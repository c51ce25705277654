package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notevault/notevault/internal/remote"
)

// scriptedPrompter returns canned answers and counts how often it was
// consulted.
type scriptedPrompter struct {
	username string
	password string
	code     string

	credentialCalls int
	codeCalls       int
	lastHint        string
}

func (s *scriptedPrompter) Credentials(ctx context.Context) (string, string, error) {
	s.credentialCalls++
	return s.username, s.password, nil
}

func (s *scriptedPrompter) OneTimeCode(ctx context.Context, hint string) (string, error) {
	s.codeCalls++
	s.lastHint = hint
	return s.code, nil
}

func TestLoginWithExplicitCredentials(t *testing.T) {
	fake := remote.NewFake()
	prompter := &scriptedPrompter{}
	flow := NewFlow(fake, prompter, nil)

	token, err := flow.Login(context.Background(), "user1", "password")
	require.NoError(t, err)
	assert.Equal(t, fake.IssuedToken, token)
	assert.Zero(t, prompter.credentialCalls, "explicit credentials must not trigger a prompt")
}

func TestLoginPromptsForMissingCredentials(t *testing.T) {
	fake := remote.NewFake()
	prompter := &scriptedPrompter{username: "user1", password: "password"}
	flow := NewFlow(fake, prompter, nil)

	token, err := flow.Login(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, fake.IssuedToken, token)
	assert.Equal(t, 1, prompter.credentialCalls)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	fake := remote.NewFake()
	flow := NewFlow(fake, nil, nil)

	_, err := flow.Login(context.Background(), "nobody", "password")
	assert.ErrorIs(t, err, remote.ErrInvalidUsername)

	_, err = flow.Login(context.Background(), "user1", "letmein")
	assert.ErrorIs(t, err, remote.ErrInvalidPassword)
}

func TestLoginWithoutPrompterNeedsCredentials(t *testing.T) {
	flow := NewFlow(remote.NewFake(), nil, nil)

	_, err := flow.Login(context.Background(), "", "")
	require.Error(t, err)
}

func TestLoginTwoFactor(t *testing.T) {
	fake := remote.NewFake()
	fake.TwoFactorRequired = true
	prompter := &scriptedPrompter{code: fake.ValidOneTimeCode}
	flow := NewFlow(fake, prompter, nil)

	token, err := flow.Login(context.Background(), "user1", "password")
	require.NoError(t, err)
	assert.Equal(t, fake.IssuedToken, token)
	assert.Equal(t, 1, prompter.codeCalls)
	assert.Equal(t, fake.TwoFactorHint, prompter.lastHint)
	assert.Equal(t, 1, fake.CallCount("completeTwoFactorAuthentication"))
}

func TestLoginTwoFactorWrongCode(t *testing.T) {
	fake := remote.NewFake()
	fake.TwoFactorRequired = true
	prompter := &scriptedPrompter{code: "000000"}
	flow := NewFlow(fake, prompter, nil)

	_, err := flow.Login(context.Background(), "user1", "password")
	assert.ErrorIs(t, err, remote.ErrInvalidOneTimeCode)
	assert.Equal(t, 1, prompter.codeCalls, "a wrong code is not retried")
}

func TestLoginTwoFactorWithoutPrompter(t *testing.T) {
	fake := remote.NewFake()
	fake.TwoFactorRequired = true
	flow := NewFlow(fake, nil, nil)

	_, err := flow.Login(context.Background(), "user1", "password")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	fake := remote.NewFake()
	flow := NewFlow(fake, nil, nil)

	info, err := flow.Validate(context.Background(), makeToken(t, time.Now().Add(24*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, fake.Account, info)
	assert.Equal(t, 1, fake.CallCount("getUser"))
}

func TestValidateExpiredTokenSkipsNetwork(t *testing.T) {
	fake := remote.NewFake()
	flow := NewFlow(fake, nil, nil)

	_, err := flow.Validate(context.Background(), makeToken(t, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, remote.ErrTokenExpired)
	assert.Zero(t, fake.CallCount("getUser"), "expired tokens are rejected without a round trip")
}

func TestValidateMalformedToken(t *testing.T) {
	fake := remote.NewFake()
	flow := NewFlow(fake, nil, nil)

	_, err := flow.Validate(context.Background(), "garbage")
	assert.ErrorIs(t, err, remote.ErrTokenMalformed)
	assert.Zero(t, fake.CallCount("getUser"))
}

func TestValidateServerRevokedToken(t *testing.T) {
	fake := remote.NewFake()
	fake.TokenInvalid = true
	flow := NewFlow(fake, nil, nil)

	_, err := flow.Validate(context.Background(), makeToken(t, time.Now().Add(24*time.Hour)))
	assert.ErrorIs(t, err, remote.ErrTokenInvalid)
}

func TestCompleteOAuth(t *testing.T) {
	fake := remote.NewFake()
	fake.OAuthToken = "S=s1:U=101:E=fff:C=ff:P=1:A=oauth:V=2:H=ff"
	flow := NewFlow(fake, nil, nil)

	token, err := flow.CompleteOAuth(context.Background(), "temp", "verifier")
	require.NoError(t, err)
	assert.Equal(t, fake.OAuthToken, token)

	fake.OAuthToken = ""
	_, err = flow.CompleteOAuth(context.Background(), "temp", "verifier")
	assert.ErrorIs(t, err, remote.ErrAuthFailed)
}
