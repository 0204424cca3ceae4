package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"vkharvest/pkg/auth"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage VK access tokens",
	Long: `Manage stored VK access tokens securely.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read-only fallback)

Never share your tokens or config files!`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store a VK access token securely",
	Long: `Store a VK access token in the system keychain or an encrypted file.

You will be prompted for the token value; it is hidden as you type.
The name defaults to "default", which is the token the harvest command
picks up automatically.

To get a token, create a VK standalone application and follow the
implicit flow with the wall and groups scopes, or issue a service key
from the application settings.`,
	Example: `  # Store the default token
  vkharvest auth login

  # Store a named token for a second account
  vkharvest auth login research`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove a stored token",
	Args:  cobra.MaximumNArgs(1),
	Run:   runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored tokens",
	Long:  `List stored tokens with their values masked.`,
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize token store:", err)
		os.Exit(1)
	}

	name := "default"
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	reader := bufio.NewReader(os.Stdin)
	if existing, _ := manager.Retrieve(name); existing != nil {
		fmt.Printf("Token '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("Access token (hidden): ")
	value, err := readSecret()
	if err != nil {
		fmt.Fprintln(os.Stderr, "\nFailed to read token:", err)
		os.Exit(1)
	}
	fmt.Println()
	if value == "" {
		fmt.Fprintln(os.Stderr, "Token value is required")
		os.Exit(1)
	}

	fmt.Print("API version (press Enter for default): ")
	apiVersion, _ := reader.ReadString('\n')
	apiVersion = strings.TrimSpace(apiVersion)

	token := &auth.Token{
		Name:         name,
		AccessToken:  value,
		APIVersion:   apiVersion,
		LastModified: time.Now(),
	}
	if err := manager.Store(token); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to store token:", err)
		os.Exit(1)
	}
	fmt.Printf("Token '%s' stored.\n", name)
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize token store:", err)
		os.Exit(1)
	}

	name := "default"
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	if err := manager.Delete(name); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to remove token:", err)
		os.Exit(1)
	}
	fmt.Printf("Token '%s' removed.\n", name)
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to initialize token store:", err)
		os.Exit(1)
	}

	tokens, err := manager.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to list tokens:", err)
		os.Exit(1)
	}
	if len(tokens) == 0 {
		fmt.Println("No stored tokens. Run 'vkharvest auth login' to add one.")
		return
	}

	for _, token := range tokens {
		masked := auth.Sanitize(token)
		fmt.Printf("%-12s %s", masked.Name, masked.AccessToken)
		if !masked.LastModified.IsZero() {
			fmt.Printf("  (modified %s)", masked.LastModified.Format("2006-01-02"))
		}
		fmt.Println()
	}
}

func readSecret() (string, error) {
	data, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
