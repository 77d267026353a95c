package command

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a password is needed but stdin is not a terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal, set SWEEPER_KEYS_PASSWORD instead")

// TerminalPassword returns a prompt reading a password from stdin without echo.
func TerminalPassword(prompt string) func() (string, error) {
	return func() (string, error) {
		fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
		if !term.IsTerminal(fd) {
			return "", ErrNoTerminal
		}

		fmt.Fprint(os.Stderr, prompt)
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", errors.Wrap(err, "failed to read password")
		}

		if len(password) == 0 {
			return "", errors.New("empty password")
		}

		return string(password), nil
	}
}

// NewPassword prompts twice and requires both entries to match.
func NewPassword(prompt func() (string, error), confirm func() (string, error)) (string, error) {
	password, err := prompt()
	if err != nil {
		return "", err
	}

	repeated, err := confirm()
	if err != nil {
		return "", err
	}

	if password != repeated {
		return "", errors.New("passwords do not match")
	}

	return password, nil
}
