package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

func isInteractiveInput() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func prompt(out io.Writer, reader *bufio.Reader, label string) (string, error) {
	if _, err := fmt.Fprint(out, label); err != nil {
		return "", err
	}
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// resolvePassword returns the flag value, then the env value, then asks on
// in. Piped input is read without a prompt label so scripts can do
// `echo secret | arca-edge customers set-password alice`.
func resolvePassword(out io.Writer, in io.Reader, flagValue, envKey string, interactive bool) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v, nil
	}
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		return v, nil
	}
	label := ""
	if interactive {
		label = "Password: "
	}
	v, err := prompt(out, bufio.NewReader(in), label)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", usagef("password required: pass --password, set %s or pipe it on stdin", envKey)
		}
		return "", err
	}
	if v == "" {
		return "", usagef("password must not be empty")
	}
	return v, nil
}
