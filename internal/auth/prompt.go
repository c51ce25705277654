package auth

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// TerminalPrompter collects credentials through interactive terminal
// forms. Construction fails when stdin is not a terminal, so scripted
// runs get a clear error instead of a hung prompt.
type TerminalPrompter struct{}

// NewTerminalPrompter returns a prompter bound to the controlling
// terminal.
func NewTerminalPrompter() (*TerminalPrompter, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("interactive login requires a terminal; pass credentials via flags or environment")
	}
	return &TerminalPrompter{}, nil
}

// Credentials implements Prompter.Credentials.
func (p *TerminalPrompter) Credentials(ctx context.Context) (string, string, error) {
	var username, password string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username or email").
				Value(&username).
				Validate(huh.ValidateNotEmpty()),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&password).
				Validate(huh.ValidateNotEmpty()),
		),
	)
	if err := form.RunWithContext(ctx); err != nil {
		return "", "", err
	}
	return username, password, nil
}

// OneTimeCode implements Prompter.OneTimeCode.
func (p *TerminalPrompter) OneTimeCode(ctx context.Context, hint string) (string, error) {
	var code string

	input := huh.NewInput().
		Title("One-time code").
		Value(&code).
		Validate(huh.ValidateNotEmpty())
	if hint != "" {
		input = input.Description(fmt.Sprintf("Delivered to %s", hint))
	}

	form := huh.NewForm(huh.NewGroup(input))
	if err := form.RunWithContext(ctx); err != nil {
		return "", err
	}
	return code, nil
}
