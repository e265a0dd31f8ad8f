// ABOUTME: Admin CLI for localloop user and session provisioning
// ABOUTME: Operates directly on the SQLite database, not over the network

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/localloop/localloop/internal/config"
	"github.com/localloop/localloop/internal/store"
)

const sessionTokenBytes = 32

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "users":
		err = cmdUsers(args)
	case "sessions":
		err = cmdSessions(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: localloop-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  users create              Create a user account")
	fmt.Println("  users list                List all users")
	fmt.Println("  sessions create <user>    Issue a session token for a username")
	fmt.Println("  sessions gc               Delete expired sessions")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  LOCALLOOP_DB              Database path (default: from config, then data/localloop.db)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  localloop-admin users create --name 'Dana Reyes' --email dana@example.com --username dana")
	fmt.Println("  localloop-admin sessions create dana --ttl 168h")
	fmt.Println()
}

// openStore opens the database the server uses. LOCALLOOP_DB wins over the
// config file so the tool works against test databases.
func openStore() (*store.SQLiteStore, error) {
	path := os.Getenv("LOCALLOOP_DB")
	if path == "" {
		path = config.Default().Database.Path
		if configPath := os.Getenv("LOCALLOOP_CONFIG"); configPath != "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}
			path = cfg.Database.Path
		}
	}
	return store.NewSQLiteStore(path)
}

func cmdUsers(args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
	}

	switch sub {
	case "create":
		return cmdUsersCreate(args)
	case "list":
		return cmdUsersList()
	default:
		return fmt.Errorf("unknown users subcommand: %s", sub)
	}
}

func cmdUsersCreate(args []string) error {
	fs := flag.NewFlagSet("users create", flag.ExitOnError)
	name := fs.String("name", "", "display name (required)")
	email := fs.String("email", "", "email address (required)")
	username := fs.String("username", "", "unique handle (required)")
	password := fs.String("password", "", "initial password (required)")
	avatar := fs.String("avatar", "", "avatar URL")
	fs.Parse(args)

	if *name == "" || *email == "" || *username == "" || *password == "" {
		return fmt.Errorf("--name, --email, --username and --password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	now := time.Now()
	user := &store.User{
		ID:           uuid.New().String(),
		Name:         *name,
		Email:        *email,
		Username:     *username,
		AvatarURL:    *avatar,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := st.CreateUser(context.Background(), user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Println("✓ user created")
	fmt.Printf("  ID:       %s\n", user.ID)
	fmt.Printf("  Username: %s\n", user.Username)
	return nil
}

func cmdUsersList() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	users, err := st.ListUsers(context.Background())
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNAME\tEMAIL\tCREATED")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.Username, u.Name, u.Email, u.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func cmdSessions(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: localloop-admin sessions <create|gc> [args]")
	}

	switch args[0] {
	case "create":
		return cmdSessionsCreate(args[1:])
	case "gc":
		return cmdSessionsGC()
	default:
		return fmt.Errorf("unknown sessions subcommand: %s", args[0])
	}
}

func cmdSessionsCreate(args []string) error {
	fs := flag.NewFlagSet("sessions create", flag.ExitOnError)
	ttl := fs.Duration("ttl", 7*24*time.Hour, "session lifetime")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("usage: localloop-admin sessions create <username> [--ttl 168h]")
	}
	username := fs.Arg(0)

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	user, err := st.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("looking up %q: %w", username, err)
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	now := time.Now()
	session := &store.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: now.Add(*ttl),
		CreatedAt: now,
	}

	if err := st.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	green.Println("✓ session created")
	fmt.Printf("  User:    %s (%s)\n", user.Username, user.ID)
	fmt.Printf("  Expires: %s\n", session.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("  Token:   %s\n", token)
	gray.Println("\n  The token is shown once; store it securely.")
	return nil
}

func cmdSessionsGC() error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.DeleteExpiredSessions(context.Background(), time.Now())
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	fmt.Printf("Deleted %d expired session(s).\n", n)
	return nil
}

// generateToken returns an opaque URL-safe session token.
func generateToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
