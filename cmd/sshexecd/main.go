// Package main is the entry point for the sshexecd command console.
//
// Usage:
//
//	sshexecd serve [config-file]      # Start the server (default command)
//	sshexecd add-user <user> <pass>   # Add a console user
//	sshexecd remove-user <user>       # Remove a console user
//	sshexecd list-users               # List console users
//	sshexecd enable-user <user>       # Enable a console user
//	sshexecd disable-user <user>      # Disable a console user
//	sshexecd keygen                   # Generate the host key
//	sshexecd help                     # Show help
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"

	"sshexecd/internal/auth"
	"sshexecd/internal/config"
	"sshexecd/internal/hostkey"
	"sshexecd/internal/server"
	"sshexecd/internal/session"
	"sshexecd/internal/userstore"
)

func main() {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "sshexecd",
	})

	cmd := "serve"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "serve":
		configPath := ""
		if len(args) > 0 {
			configPath = args[0]
		}
		if err := serve(configPath, logger); err != nil {
			logger.Fatal("server failed", "error", err)
		}

	case "add-user":
		if len(args) != 2 {
			fmt.Println("Usage: sshexecd add-user <username> <password>")
			os.Exit(1)
		}
		withStore(logger, func(store *userstore.Store) error {
			return store.Add(args[0], args[1])
		})
		fmt.Printf("User %q added\n", args[0])

	case "remove-user":
		if len(args) != 1 {
			fmt.Println("Usage: sshexecd remove-user <username>")
			os.Exit(1)
		}
		withStore(logger, func(store *userstore.Store) error {
			return store.Remove(args[0])
		})
		fmt.Printf("User %q removed\n", args[0])

	case "list-users":
		withStore(logger, func(store *userstore.Store) error {
			for _, name := range store.List() {
				fmt.Println(name)
			}
			return nil
		})

	case "enable-user", "disable-user":
		if len(args) != 1 {
			fmt.Printf("Usage: sshexecd %s <username>\n", cmd)
			os.Exit(1)
		}
		enabled := cmd == "enable-user"
		withStore(logger, func(store *userstore.Store) error {
			return store.SetEnabled(args[0], enabled)
		})
		fmt.Printf("User %q updated\n", args[0])

	case "keygen":
		cfg, err := config.Load("")
		if err != nil {
			logger.Fatal("failed to load configuration", "error", err)
		}
		pair, err := hostkey.LoadOrCreate(cfg.HostKeyFile)
		if err != nil {
			logger.Fatal("failed to generate host key", "error", err)
		}
		fmt.Printf("Host key at %s\n", cfg.HostKeyFile)
		fmt.Print(string(ssh.MarshalAuthorizedKey(pair.PublicKey())))

	case "help", "-h", "--help":
		printUsage()

	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

// serve runs the console server until an interrupt or termination signal
// arrives.
func serve(configPath string, logger *log.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	pair, err := hostkey.LoadOrCreate(cfg.HostKeyFile)
	if err != nil {
		return err
	}

	var passwordPolicy auth.PasswordPolicy
	if cfg.PAMService != "" {
		passwordPolicy = auth.PAMPasswordPolicy{Service: cfg.PAMService}
	} else {
		store, err := userstore.Open(cfg.UserDBFile)
		if err != nil {
			return err
		}
		passwordPolicy = store
	}

	var keyPolicy auth.PublicKeyPolicy
	if cfg.AuthorizedKeysFile != "" {
		keyPolicy = auth.AuthorizedKeysPolicy{Path: cfg.AuthorizedKeysFile}
	}

	srv := server.New(server.Config{
		Address: cfg.ListenAddress,
		Port:    cfg.ListenPort,
		Workers: cfg.Workers,
	}, []*hostkey.KeyPair{pair}, auth.NewDispatcher(passwordPolicy, keyPolicy), adminHandler(time.Now()), logger)

	if err := srv.Start(); err != nil {
		return err
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Info("shutting down")
	return srv.Stop()
}

// withStore opens the configured user database and runs fn against it.
func withStore(logger *log.Logger, fn func(*userstore.Store) error) {
	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal("failed to load configuration", "error", err)
	}
	store, err := userstore.Open(cfg.UserDBFile)
	if err != nil {
		logger.Fatal("failed to open user database", "error", err)
	}
	if err := fn(store); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// adminHandler is the built-in administrative console: a handful of
// informational commands answered from process state.
func adminHandler(started time.Time) session.Handler {
	return func(cmd session.Command, out io.Writer) error {
		fields := strings.Fields(cmd.Text)
		if len(fields) == 0 {
			return fmt.Errorf("empty command")
		}
		switch fields[0] {
		case "status":
			fmt.Fprintf(out, "sshexecd up %s\n", time.Since(started).Round(time.Second))
		case "whoami":
			fmt.Fprintln(out, cmd.User)
		case "echo":
			fmt.Fprintln(out, strings.Join(fields[1:], " "))
		case "env":
			keys := make([]string, 0, len(cmd.Env))
			for k := range cmd.Env {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s=%s\n", k, cmd.Env[k])
			}
		default:
			return fmt.Errorf("unknown command: %q", fields[0])
		}
		return nil
	}
}

// printUsage prints usage information for the sshexecd CLI.
func printUsage() {
	fmt.Println("sshexecd - SSH command console server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sshexecd serve [config-file]      - Start the server")
	fmt.Println("  sshexecd add-user <user> <pass>   - Add a console user")
	fmt.Println("  sshexecd remove-user <user>       - Remove a console user")
	fmt.Println("  sshexecd list-users               - List console users")
	fmt.Println("  sshexecd enable-user <user>       - Enable a console user")
	fmt.Println("  sshexecd disable-user <user>      - Disable a console user")
	fmt.Println("  sshexecd keygen                   - Generate the host key")
	fmt.Println("  sshexecd help                     - Show this help")
}
