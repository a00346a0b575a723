package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/vault-cli/lockbox/internal/domain"
	"github.com/vault-cli/lockbox/internal/protect"
	"github.com/vault-cli/lockbox/internal/store"
)

// Prompter asks the user for input.
type Prompter interface {
	Password(prompt string) (*protect.Value, error)
	Input(prompt string) (string, error)
	Confirm(prompt string, defaultYes bool) (bool, error)
}

// terminalPrompter reads from in, echoing prompts to out. Passwords are read
// without echo when in is a terminal.
type terminalPrompter struct {
	in     *bufio.Reader
	fd     int
	isTerm bool
	out    io.Writer
}

func newTerminalPrompter(in io.Reader, out io.Writer) *terminalPrompter {
	p := &terminalPrompter{in: bufio.NewReader(in), out: out, fd: -1}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
		p.isTerm = true
	}
	return p
}

// Password prompts for a password without echoing to terminal
func (p *terminalPrompter) Password(prompt string) (*protect.Value, error) {
	fmt.Fprint(p.out, prompt)

	if !p.isTerm {
		line, err := p.readLine()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return protect.FromString(line), nil
	}

	password, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return protect.Wrap(password), nil
}

// Input prompts for regular input
func (p *terminalPrompter) Input(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm prompts for yes/no confirmation
func (p *terminalPrompter) Confirm(prompt string, defaultYes bool) (bool, error) {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}

	input, err := p.Input(prompt + suffix)
	if err != nil {
		return false, err
	}

	input = strings.ToLower(input)
	if input == "" {
		return defaultYes, nil
	}
	return input == "y" || input == "yes", nil
}

func (p *terminalPrompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptPasswordConfirm prompts twice and requires both to match.
func promptPasswordConfirm(p Prompter, prompt string) (*protect.Value, error) {
	password, err := p.Password(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := p.Password("Confirm password: ")
	if err != nil {
		return nil, err
	}
	if !password.Equal(confirm) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return password, nil
}

// promptChooser implements store.LocationChooser with prompts. Open
// locations are offered from the history.
type promptChooser struct {
	prompt     Prompter
	out        io.Writer
	history    store.HistoryStore
	defaultDir string
}

var _ store.LocationChooser = (*promptChooser)(nil)

func (c *promptChooser) ChooseOpenLocation(filter store.FileFilter) (string, bool, error) {
	var records []domain.HistoryRecord
	if c.history != nil {
		var err error
		if records, err = c.history.List(); err != nil {
			return "", false, err
		}
	}

	if len(records) > 0 {
		fmt.Fprintln(c.out, "Recent vaults:")
		for i, rec := range records {
			fmt.Fprintf(c.out, "  %d) %s  %s\n", i+1, rec.Name, rec.Location)
		}
	}

	input, err := c.prompt.Input(fmt.Sprintf("Open %s (number or path, empty to cancel): ", filter.Name))
	if err != nil {
		return "", false, err
	}
	if input == "" {
		return "", false, nil
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(records) {
			return "", false, fmt.Errorf("invalid choice: %d", n)
		}
		return records[n-1].Location, true, nil
	}
	return input, true, nil
}

func (c *promptChooser) ChooseSaveLocation(suggestedName string, filter store.FileFilter) (string, bool, error) {
	suggested := suggestedName
	if len(filter.Extensions) > 0 && filepath.Ext(suggested) == "" {
		suggested += "." + filter.Extensions[0]
	}
	suggested = filepath.Join(c.defaultDir, suggested)

	input, err := c.prompt.Input(fmt.Sprintf("Save %s as [%s] (- to cancel): ", filter.Name, suggested))
	if err != nil {
		return "", false, err
	}
	switch input {
	case "":
		return suggested, true, nil
	case "-":
		return "", false, nil
	default:
		return input, true, nil
	}
}
