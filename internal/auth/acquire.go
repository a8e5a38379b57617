package auth

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// StaticAcquirer hands out a fixed token, e.g. one copied from a browser.
type StaticAcquirer struct {
	Token string
}

func (s StaticAcquirer) Acquire(ctx context.Context) (string, error) {
	if strings.TrimSpace(s.Token) == "" {
		return "", errors.New("no static token configured")
	}
	return s.Token, nil
}

// CommandAcquirer runs an external login helper (for instance a browser
// automation script). The helper receives the account in its environment and
// prints the token as the first non-empty line on stdout.
type CommandAcquirer struct {
	Command  []string
	Username string
	Password string
	Browser  string
	Timeout  time.Duration
}

func (c CommandAcquirer) Acquire(ctx context.Context) (string, error) {
	if len(c.Command) == 0 || c.Command[0] == "" {
		return "", errors.New("no login command configured")
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Env = append(os.Environ(),
		"COURSEGRAB_USERNAME="+c.Username,
		"COURSEGRAB_PASSWORD="+c.Password,
		"COURSEGRAB_BROWSER="+c.Browser,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("login command: %w: %s", err, msg)
		}
		return "", fmt.Errorf("login command: %w", err)
	}

	sc := bufio.NewScanner(&stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line, nil
		}
	}
	return "", errors.New("login command printed no token")
}
