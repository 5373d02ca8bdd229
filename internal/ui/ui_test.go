package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestInit_NonTerminalDisablesColor(t *testing.T) {
	Init(&bytes.Buffer{}, false)

	if got := RenderPass("ok"); got != "ok" {
		t.Errorf("RenderPass() = %q, want plain text", got)
	}
	if got := RenderFail("bad"); got != "bad" {
		t.Errorf("RenderFail() = %q, want plain text", got)
	}
}

func TestIsTerminal(t *testing.T) {
	if IsTerminal(&bytes.Buffer{}) {
		t.Error("IsTerminal(buffer) = true")
	}
}

func TestTable(t *testing.T) {
	Init(&bytes.Buffer{}, true)

	out := Table([]string{"REF", "TITLE"}, [][]string{{"1", "Malaria"}, {"2", "ANC"}})
	for _, want := range []string{"REF", "TITLE", "Malaria", "ANC"} {
		if !strings.Contains(out, want) {
			t.Errorf("Table() missing %q:\n%s", want, out)
		}
	}
}

func TestConfirm_NotInteractive(t *testing.T) {
	if IsTerminal(stdin) {
		t.Skip("stdin is a terminal")
	}
	if _, err := Confirm("Clear?", ""); err != ErrNotInteractive {
		t.Errorf("Confirm() error = %v, want ErrNotInteractive", err)
	}
}
