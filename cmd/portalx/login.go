package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/portalx/internal/app"
	"github.com/ternarybob/portalx/internal/common"
	"github.com/ternarybob/portalx/internal/interfaces"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the portal session",
	Long:  `Runs the login flow once, prompting for a verification code on stdin if the portal asks for one, and saves the session for later runs.`,
	RunE:  runLogin,
}

func runLogin(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	application, err := newApp()
	if err != nil {
		return err
	}
	defer application.Shutdown()

	h, err := application.Initialize(ctx, app.InitOptions{OnLog: progressLine, OnOTP: otpProvider(config, os.Getenv)})
	if err != nil {
		return err
	}
	defer application.Close(h)

	fmt.Fprintf(os.Stderr, "Session for %s saved\n", h.AccountKey)
	return nil
}

// otpProvider picks how a verification code reaches the login flow. A code in the
// configured environment variable, or a headed browser where the code is typed on
// the page, leaves the provider unset so the login flow uses those paths.
func otpProvider(cfg *common.Config, getenv func(string) string) interfaces.OTPProvider {
	if cfg.Auth.OTPEnv != "" && strings.TrimSpace(getenv(cfg.Auth.OTPEnv)) != "" {
		return nil
	}
	if !cfg.Browser.Headless {
		return nil
	}
	return promptOTP
}

// promptOTP reads a verification code from stdin. It blocks until a line is
// entered or ctx is cancelled.
func promptOTP(ctx context.Context) (string, error) {
	fmt.Fprint(os.Stderr, "Verification code: ")

	lines := make(chan string, 1)
	errs := make(chan error, 1)
	common.SafeGo(logger, "readOTP", func() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			errs <- fmt.Errorf("failed to read verification code: %w", err)
			return
		}
		lines <- strings.TrimSpace(line)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errs:
		return "", err
	case code := <-lines:
		return code, nil
	}
}
