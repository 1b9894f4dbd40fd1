package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/agentgate/agentgate/internal/cli"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func versionString() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") || strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

func run() int {
	err := cli.NewRoot(versionString()).ExecuteContext(context.Background())
	if err == nil {
		return 0
	}
	var ee *cli.ExitError
	if errors.As(err, &ee) {
		if msg := ee.Message(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		return ee.Code()
	}
	fmt.Fprintln(os.Stderr, err.Error())
	return 1
}

func main() {
	os.Exit(run())
}
