package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v2"

	"github.com/pilacorp/go-ethr-did/config"
	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/ethrdid"
	"github.com/pilacorp/go-ethr-did/resolver"
	"github.com/pilacorp/go-ethr-did/server"
	"github.com/pilacorp/go-ethr-did/signer"
)

var Version = "dev"

func main() {
	app := &cli.App{
		Name:  "ethrdid",
		Usage: "Create, register and resolve did:ethr identities",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 2 * time.Minute,
				Usage: "deadline for chain operations",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				EnvVars: []string{"ETHRDID_VERBOSE"},
			},
		},
		Commands: []*cli.Command{
			serve,
			create,
			resolve,
			validate,
			register,
			setAttribute,
			attributes,
			balance,
			verifyOwnership,
		},
		ErrWriter: os.Stderr,
		Version:   Version,
	}

	if err := app.Run(os.Args); err != nil {
		if ethrdid.KindOf(err) != nil {
			fmt.Fprintln(os.Stderr, ethrdid.UserMessage(err))
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(cmd *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func newIdentity(cmd *cli.Context) (*ethrdid.Identity, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	opts := append(cfg.Options(), ethrdid.WithLogger(newLogger(cmd)))
	if cfg.ResolverURL != "" {
		opts = append(opts, ethrdid.WithResolver(resolver.NewHTTP(cfg.ResolverURL, resolver.WithUserAgent("ethrdid/"+Version))))
	}

	id, err := ethrdid.New(opts...)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("failed to create identity: %w", err)
	}

	return id, cfg, nil
}

func opContext(cmd *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context, cmd.Duration("timeout"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var privateKeyFlag = &cli.StringFlag{
	Name:     "private-key",
	Required: true,
	EnvVars:  []string{"ETHRDID_PRIVATE_KEY"},
}

var serve = &cli.Command{
	Name:  "serve",
	Usage: "Start the HTTP API",
	Action: func(cmd *cli.Context) error {
		id, cfg, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		s, err := server.New(&server.Args{
			Addr:     cfg.Addr,
			Identity: id,
			Logger:   newLogger(cmd),
			Version:  Version,
		})
		if err != nil {
			return fmt.Errorf("error creating server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := s.Serve(ctx); err != nil {
			return fmt.Errorf("error running server: %w", err)
		}

		return nil
	},
}

var create = &cli.Command{
	Name:  "create",
	Usage: "Generate a key pair and print its DID",
	Action: func(cmd *cli.Context) error {
		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		res, err := id.CreateDID()
		if err != nil {
			return err
		}

		return printJSON(res)
	},
}

var resolve = &cli.Command{
	Name:      "resolve",
	Usage:     "Resolve a DID to its DID Document",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return cli.Exit("expected exactly one DID", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		res, err := id.Resolve(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		return printJSON(res)
	},
}

var validate = &cli.Command{
	Name:      "validate",
	Usage:     "Check the format of a DID",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return cli.Exit("expected exactly one DID", 2)
		}

		address, ok := did.ExtractAddress(cmd.Args().First())
		if !ok {
			return cli.Exit("invalid did:ethr identifier", 1)
		}

		fmt.Println(address)
		return nil
	},
}

var register = &cli.Command{
	Name:      "register",
	Usage:     "Publish the DID's public key to the registry",
	ArgsUsage: "<did>",
	Flags:     []cli.Flag{privateKeyFlag},
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return cli.Exit("expected exactly one DID", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		txHash, err := id.RegisterDID(ctx, cmd.Args().First(), cmd.String("private-key"))
		if err != nil {
			return err
		}

		fmt.Println(txHash)
		return nil
	},
}

var setAttribute = &cli.Command{
	Name:      "set-attribute",
	Usage:     "Set a registry attribute on a DID",
	ArgsUsage: "<did> <key> <value>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "private-key",
			EnvVars: []string{"ETHRDID_PRIVATE_KEY"},
		},
		&cli.StringFlag{
			Name:    "remote-signer",
			Usage:   "signing API endpoint, used instead of --private-key",
			EnvVars: []string{"ETHRDID_REMOTE_SIGNER_URL"},
		},
		&cli.StringFlag{
			Name:    "remote-signer-key",
			Usage:   "API key sent to the signing API",
			EnvVars: []string{"ETHRDID_REMOTE_SIGNER_API_KEY"},
		},
		&cli.DurationFlag{
			Name:  "validity",
			Usage: "attribute validity, defaults to the configured validity",
		},
	},
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 3 {
			return cli.Exit("expected <did> <key> <value>", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		var opts []ethrdid.AttributeOption
		if v := cmd.Duration("validity"); v > 0 {
			opts = append(opts, ethrdid.WithAttributeValidity(v))
		}

		args := cmd.Args()

		var res *ethrdid.AttributeResult
		switch {
		case cmd.String("remote-signer") != "":
			remote, err := remoteSigner(cmd.String("remote-signer"), cmd.String("remote-signer-key"), args.Get(0))
			if err != nil {
				return err
			}
			res, err = id.AddDIDAttributeWithSigner(ctx, args.Get(0), remote, args.Get(1), args.Get(2), opts...)
			if err != nil {
				return err
			}
		case cmd.String("private-key") != "":
			res, err = id.AddDIDAttribute(ctx, args.Get(0), cmd.String("private-key"), args.Get(1), args.Get(2), opts...)
			if err != nil {
				return err
			}
		default:
			return cli.Exit("one of --private-key or --remote-signer is required", 2)
		}

		return printJSON(res)
	},
}

// remoteSigner returns a signing-API provider for the key controlling
// didStr. Public-key DIDs resolve to their address.
func remoteSigner(endpoint, apiKey, didStr string) (*signer.RemoteProvider, error) {
	id, err := did.Parse(didStr)
	if err != nil {
		return nil, &ethrdid.Error{Op: "AddDIDAttribute", Kind: ethrdid.ErrFormat, Err: err}
	}

	return signer.NewRemoteProvider(endpoint, apiKey, id.Address)
}

var verifyOwnership = &cli.Command{
	Name:      "verify-ownership",
	Usage:     "Check whether an address controls a DID",
	ArgsUsage: "<did> <address>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 2 {
			return cli.Exit("expected <did> <address>", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		owner := id.VerifyDIDOwnership(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
		fmt.Println(owner)
		if !owner {
			return cli.Exit("", 1)
		}

		return nil
	},
}

var attributes = &cli.Command{
	Name:      "attributes",
	Usage:     "List the service endpoints of a DID by type",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return cli.Exit("expected exactly one DID", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		return printJSON(id.DIDAttributes(ctx, cmd.Args().First()))
	},
}

var balance = &cli.Command{
	Name:      "balance",
	Usage:     "Print the wei balance of the account behind a DID",
	ArgsUsage: "<did>",
	Action: func(cmd *cli.Context) error {
		if cmd.NArg() != 1 {
			return cli.Exit("expected exactly one DID", 2)
		}

		id, _, err := newIdentity(cmd)
		if err != nil {
			return err
		}
		defer id.Close()

		ctx, cancel := opContext(cmd)
		defer cancel()

		wei, err := id.CheckBalance(ctx, cmd.Args().First())
		if err != nil {
			return err
		}

		fmt.Println(wei)
		return nil
	},
}
