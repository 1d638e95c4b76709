package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	appLog "mmstatus/internal/log"
	"mmstatus/internal/presence"
)

var (
	loginServer string
	loginUser   string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Obtain a user ID and session token",
	Long: `Log in to the Mattermost server with a username and password and
store the returned user ID and session token in the config file. The
password is read from standard input. Press Ctrl-C to cancel.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginServer, "server", "",
		"Mattermost server (overrides config)")
	loginCmd.Flags().StringVar(&loginUser, "user", "",
		"Username or email")
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	server := cfg.Mattermost.Server
	if loginServer != "" {
		server = loginServer
	}

	in := bufio.NewReader(cmd.InOrStdin())
	out := cmd.OutOrStdout()

	user := loginUser
	if user == "" {
		fmt.Fprint(out, "Username: ")
		if user, err = readLine(in); err != nil {
			return err
		}
	}
	fmt.Fprint(out, "Password: ")
	password, err := readPassword(cmd.InOrStdin(), in)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	client := presence.NewClient(requestTimeout(cfg))
	creds, err := client.Login(ctx, server, user, password)
	switch {
	case presence.IsCanceled(err):
		appLog.Info("login canceled")
		return nil
	case err != nil:
		return err
	}

	cfg.Mattermost.Server = creds.ServerBaseURL
	cfg.Mattermost.UserID = creds.UserID
	cfg.Mattermost.AuthToken = creds.AuthToken
	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	fmt.Fprintf(out, "Logged in as %s (user id %s)\n", user, creds.UserID)
	return nil
}

// readPassword reads without echo when stdin is a terminal and falls back
// to a plain line read otherwise (pipes, tests).
func readPassword(stdin io.Reader, buffered *bufio.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	return readLine(buffered)
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
