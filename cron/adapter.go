package cron

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ExecAdapter is the production Adapter: it shells out to the system
// crontab(1) binary, matching how the core's own host environment
// manages the invoking user's crontab. Every invocation is pinned to
// $USER via -u, per the required USER environment variable (§6) and the
// source's own `crontab -u %s ...` calls.
type ExecAdapter struct{}

func (ExecAdapter) Read() (string, error) {
	user, err := currentUser()
	if err != nil {
		return "", err
	}
	out, err := exec.Command("crontab", "-u", user, "-l").CombinedOutput()
	if err != nil {
		// "no crontab for <user>" exits nonzero; treat as empty.
		if strings.Contains(strings.ToLower(string(out)), "no crontab") {
			return "", nil
		}
		return "", err
	}
	return string(out), nil
}

func (ExecAdapter) Write(content string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	cmd := exec.Command("crontab", "-u", user, "-")
	cmd.Stdin = bytes.NewBufferString(content)
	return cmd.Run()
}

func currentUser() (string, error) {
	user := os.Getenv("USER")
	if user == "" {
		return "", fmt.Errorf("USER environment variable is not set")
	}
	return user, nil
}
