package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/tokenrelay/internal/credstore"
	"github.com/florianilch/tokenrelay/internal/proxy"
)

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "manage stored session credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "credentials file for file storage",
			},
			&cli.StringFlag{
				Name:  "auth--env-prefix",
				Usage: "variable prefix for env storage",
			},
			&cli.StringFlag{
				Name:  "auth--keyring-user",
				Usage: "user for keyring storage",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "store a credential triple (prompts when stdin is a terminal, otherwise reads JSON)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session-id", Usage: "session identifier"},
				},
				Action: authSetAction,
			},
			{
				Name:   "status",
				Usage:  "print a summary of the stored credentials",
				Action: authStatusAction,
			},
			{
				Name:   "clear",
				Usage:  "delete the stored credentials",
				Action: authClearAction,
			},
		},
	}
}

// output returns where command results are printed.
func output(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

// openStore resolves the configured credential store for an auth subcommand.
func openStore(cmd *cli.Command) (credstore.Store, func() error, error) {
	auth, err := loadAuthConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, cleanup, err := auth.NewStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return store, cleanup, nil
}

func authSetAction(ctx context.Context, cmd *cli.Command) error {
	var (
		state credstore.TokenState
		err   error
	)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err = promptTokenState(output(cmd), os.Stdin, int(os.Stdin.Fd()))
	} else {
		state, err = decodeTokenState(os.Stdin)
	}
	if err != nil {
		return err
	}
	if id := cmd.String("session-id"); id != "" {
		state.SessionID = id
	}
	if state.AccessToken == "" {
		return errors.New("access token is required")
	}

	store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	if err := store.Write(ctx, state); err != nil {
		if errors.Is(err, credstore.ErrReadOnly) {
			return errors.New("configured storage is read-only")
		}
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	_, _ = fmt.Fprintln(output(cmd), "credentials stored, restart a running relay to pick them up")
	return nil
}

// promptTokenState asks for each secret without echoing it.
func promptTokenState(w io.Writer, r io.Reader, fd int) (credstore.TokenState, error) {
	readSecret := func(label string) (string, error) {
		_, _ = fmt.Fprintf(w, "%s: ", label)
		b, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", label, err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	var state credstore.TokenState
	var err error
	if state.AccessToken, err = readSecret("Access token"); err != nil {
		return state, err
	}
	if state.RefreshToken, err = readSecret("Refresh token (optional)"); err != nil {
		return state, err
	}

	_, _ = fmt.Fprint(w, "Session ID (optional): ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return state, fmt.Errorf("reading session id: %w", err)
	}
	state.SessionID = strings.TrimSpace(line)
	return state, nil
}

// decodeTokenState reads {"access_token","refresh_token","session_id"} from r.
func decodeTokenState(r io.Reader) (credstore.TokenState, error) {
	var state credstore.TokenState
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return state, fmt.Errorf("decoding credentials: %w", err)
	}
	return state, nil
}

func authStatusAction(ctx context.Context, cmd *cli.Command) error {
	store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	state, err := store.Read(ctx)
	if err != nil && !errors.Is(err, credstore.ErrNotFound) {
		return fmt.Errorf("failed to read credentials: %w", err)
	}

	return writeStatus(output(cmd), proxy.NewSessionStatus(state))
}

func writeStatus(w io.Writer, status proxy.SessionStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(status)
}

func authClearAction(ctx context.Context, cmd *cli.Command) error {
	store, cleanup, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = cleanup() }()

	if err := store.Delete(ctx); err != nil {
		if errors.Is(err, credstore.ErrReadOnly) {
			return errors.New("configured storage is read-only")
		}
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	_, _ = fmt.Fprintln(output(cmd), "credentials cleared")
	return nil
}
