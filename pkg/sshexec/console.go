package sshexec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	// hostname, optional (mode), then > or #
	promptRE   = regexp.MustCompile(`^([A-Za-z0-9][\w.\-/]*)(\([\w\-/]+\))?([>#])\s?$`)
	passwordRE = regexp.MustCompile(`(?i)password:\s?$`)
)

// Commands wrapped around every batch. Their output is discarded.
const (
	cmdEnable    = "enable"
	cmdPager     = "terminal pager 0"
	cmdConfigure = "configure terminal"
	cmdEnd       = "end"
	cmdExit      = "exit"
)

var errEnableRefused = errors.New("enable refused")

// console drives an interactive CLI session: it writes one command at a
// time and reads until the device prompts again.
type console struct {
	w io.Writer
	r *bufio.Reader

	host   string
	prompt string
}

func newConsole(w io.Writer, r io.Reader) *console {
	return &console{w: w, r: bufio.NewReader(r)}
}

func (c *console) privileged() bool { return strings.HasSuffix(c.prompt, "#") }

func (c *console) configMode() bool { return strings.Contains(c.prompt, "(config") }

// isPrompt matches a prompt for the session's hostname. The first prompt
// seen fixes the hostname.
func (c *console) isPrompt(s string) bool {
	m := promptRE.FindStringSubmatch(s)
	if m == nil {
		return false
	}
	return c.host == "" || m[1] == c.host
}

// expect reads until the device waits at a prompt, or at a password request
// when password is set. It returns the complete lines read before that
// point and the pending text it stopped at.
func (c *console) expect(password bool) ([]string, string, error) {
	var (
		lines []string
		line  []byte
	)
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return lines, string(line), err
		}
		switch b {
		case '\n':
			lines = append(lines, string(line))
			line = line[:0]
			continue
		case '\r':
			continue
		}
		line = append(line, b)

		// A prompt is the last thing the device sends before it waits.
		if c.r.Buffered() > 0 {
			continue
		}
		pending := string(line)
		if c.isPrompt(pending) {
			c.prompt = strings.TrimSpace(pending)
			if c.host == "" {
				c.host = promptRE.FindStringSubmatch(pending)[1]
			}
			return lines, pending, nil
		}
		if password && passwordRE.MatchString(pending) {
			return lines, pending, nil
		}
	}
}

func (c *console) send(cmd string) error {
	_, err := io.WriteString(c.w, cmd+"\n")
	return err
}

// run sends cmd and returns its output without the echoed command line.
func (c *console) run(cmd string) ([]string, error) {
	if err := c.send(cmd); err != nil {
		return nil, err
	}
	lines, _, err := c.expect(false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return cleanOutput(lines, cmd), nil
}

// login waits for the first prompt, discarding the banner, and moves the
// session to privileged mode.
func (c *console) login(enablePassword string) error {
	if _, _, err := c.expect(false); err != nil {
		return fmt.Errorf("waiting for prompt: %w", err)
	}
	if c.privileged() {
		return nil
	}
	if err := c.send(cmdEnable); err != nil {
		return err
	}
	// Devices ask again after a wrong password.
	for tries := 0; ; tries++ {
		_, pending, err := c.expect(true)
		if err != nil {
			return fmt.Errorf("%s: %w", cmdEnable, err)
		}
		if !passwordRE.MatchString(pending) {
			break
		}
		if tries > 0 {
			return fmt.Errorf("%w: enable password rejected", errEnableRefused)
		}
		if err := c.send(enablePassword); err != nil {
			return err
		}
	}
	if !c.privileged() {
		return fmt.Errorf("%w: prompt %q", errEnableRefused, c.prompt)
	}
	return nil
}

// runBatch runs every line of text in configuration mode and returns the
// combined output. The session is left in privileged mode.
func (c *console) runBatch(enablePassword, text string) ([]string, error) {
	if err := c.login(enablePassword); err != nil {
		return nil, err
	}
	if _, err := c.run(cmdPager); err != nil {
		return nil, err
	}
	if _, err := c.run(cmdConfigure); err != nil {
		return nil, err
	}
	if !c.configMode() {
		return nil, fmt.Errorf("%s: still at %q", cmdConfigure, c.prompt)
	}

	var out []string
	for _, cmd := range strings.Split(text, "\n") {
		if strings.TrimSpace(cmd) == "" {
			continue
		}
		lines, err := c.run(cmd)
		if err != nil {
			return out, err
		}
		out = append(out, lines...)
	}

	if _, err := c.run(cmdEnd); err != nil {
		return out, err
	}
	return out, nil
}

// cleanOutput drops the echo of cmd, prompt lines and blank lines from the
// text a device printed in answer to cmd.
func cleanOutput(lines []string, cmd string) []string {
	var out []string
	for i, line := range lines {
		if i == 0 && isEcho(line, cmd) {
			continue
		}
		if strings.TrimSpace(line) == "" || isPromptLine(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// isEcho reports whether line is cmd as typed, with or without the prompt
// in front of it.
func isEcho(line, cmd string) bool {
	line = strings.TrimSpace(line)
	cmd = strings.TrimSpace(cmd)
	if line == cmd {
		return true
	}
	if i := strings.IndexAny(line, ">#"); i >= 0 && promptRE.MatchString(line[:i+1]) {
		return strings.TrimSpace(line[i+1:]) == cmd
	}
	return false
}

// isPromptLine matches a bare prompt or a prompt followed by typed input.
func isPromptLine(line string) bool {
	line = strings.TrimSpace(line)
	i := strings.IndexAny(line, ">#")
	return i >= 0 && promptRE.MatchString(line[:i+1])
}
