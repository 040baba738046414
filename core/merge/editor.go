package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/term"
)

// Editor lets the user change a commit message before it is written.
type Editor interface {
	Edit(ctx context.Context, message string) (string, error)
}

// EditorFunc adapts a function to Editor.
type EditorFunc func(ctx context.Context, message string) (string, error)

func (f EditorFunc) Edit(ctx context.Context, message string) (string, error) {
	return f(ctx, message)
}

var ErrNoEditor = errors.New("no editor configured")

// CommandEditor opens the message in an external editor. It only runs when
// stdin is a terminal; otherwise the message is returned unchanged.
type CommandEditor struct {
	Command string
	Stdin   *os.File
	Stdout  *os.File
	Stderr  *os.File
}

func (e *CommandEditor) Edit(ctx context.Context, message string) (string, error) {
	stdin := e.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	if !term.IsTerminal(int(stdin.Fd())) {
		return message, nil
	}
	fields := strings.Fields(e.Command)
	if len(fields) == 0 {
		return "", ErrNoEditor
	}

	f, err := os.CreateTemp("", "RAD_MERGE_MSG-*")
	if err != nil {
		return "", err
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.WriteString(message); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, fields[0], append(fields[1:], path)...)
	cmd.Stdin = stdin
	cmd.Stdout = orDefault(e.Stdout, os.Stdout)
	cmd.Stderr = orDefault(e.Stderr, os.Stderr)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("run editor %q: %w", e.Command, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func orDefault(f, def *os.File) *os.File {
	if f != nil {
		return f
	}
	return def
}

// stripComments drops lines starting with '#' and surrounding blank space.
func stripComments(message string) string {
	var kept []string
	for _, line := range strings.Split(message, "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		kept = append(kept, strings.TrimRight(line, " \t\r"))
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
