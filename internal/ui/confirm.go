package ui

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
)

// stdin is where Confirm reads answers from.
var stdin = os.Stdin

// ErrNotInteractive is returned by Confirm when there is no terminal to ask on.
var ErrNotInteractive = errors.New("confirmation needs an interactive terminal")

// Confirm asks a yes/no question on the terminal. It defaults to no.
func Confirm(title, description string) (bool, error) {
	if !IsTerminal(stdin) {
		return false, ErrNotInteractive
	}

	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}
