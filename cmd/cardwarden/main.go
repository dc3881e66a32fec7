// Command cardwarden validates A2A Agent Cards: schema checks, detached
// JWS signature verification against published JWKS, and an optional
// live-endpoint probe. It can run one-shot (validate, verify) or as an
// HTTP service (serve).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cardwarden/cardwarden/internal/config"
	"github.com/cardwarden/cardwarden/internal/probe"
	"github.com/cardwarden/cardwarden/internal/protocol"
	"github.com/cardwarden/cardwarden/internal/server"
	"github.com/cardwarden/cardwarden/internal/validator"
	"github.com/cardwarden/cardwarden/internal/verify"
)

// Version is set at build time via ldflags.
var Version = "dev"

// serverFactory builds the serve-mode server. Tests replace it.
var serverFactory = func(cfg *config.Config, logger *slog.Logger) serveRunner {
	return server.New(cfg, logger)
}

type serveRunner interface {
	Start(ctx context.Context) error
	OnConfigReload(newCfg *config.Config) error
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return 2
	}

	switch args[0] {
	case "validate":
		return cmdValidate(args[1:])
	case "verify":
		return cmdVerify(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "version", "--version", "-v":
		fmt.Printf("cardwarden %s\n", Version)
		return 0
	case "help", "--help", "-h":
		printUsage(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage(os.Stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `cardwarden - A2A Agent Card validator

Usage:
  cardwarden validate <card-file-or-url> [flags]   full validation (schema, signatures, optional probe)
  cardwarden verify   <card-file-or-url> [flags]   signature verification only
  cardwarden serve    [flags]                      run the HTTP validation service
  cardwarden version                               print version
  cardwarden help                                  print this help

Validate/verify flags:
  -json             emit the result as JSON
  -probe            probe the card's declared endpoint (validate only)
  -timeout dur      JWKS fetch timeout (default 10s)
  -allow-insecure   permit http:// JWKS URIs and endpoints

Serve flags:
  -config path      YAML configuration file (defaults apply when omitted)
`)
}

// loadCard reads an Agent Card from a local file or an HTTP(S) URL.
func loadCard(ctx context.Context, ref string, timeout time.Duration) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching card: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching card: HTTP %d", resp.StatusCode)
		}
		return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("reading card: %w", err)
	}
	return data, nil
}

func cmdValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit result as JSON")
	doProbe := fs.Bool("probe", false, "probe the card's declared endpoint")
	timeout := fs.Duration("timeout", verify.DefaultTimeout, "JWKS fetch timeout")
	allowInsecure := fs.Bool("allow-insecure", false, "permit http:// JWKS URIs and endpoints")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "validate: exactly one card file or URL required")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := loadCard(ctx, fs.Arg(0), *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardwarden: %v\n", err)
		return 2
	}
	card, err := protocol.ParseCard(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardwarden: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := verify.New(verify.Config{Timeout: *timeout, AllowInsecure: *allowInsecure}, logger)
	sigResult := v.VerifyCard(ctx, card)

	var availability *probe.Result
	if *doProbe && card.Card.URL != "" {
		res := probe.Endpoint(ctx, card.Card.URL, probe.Config{
			Timeout:       *timeout,
			AllowInsecure: *allowInsecure,
		})
		availability = &res
	}

	result := validator.Validate(&card.Card, &sigResult, availability)

	if *jsonOut {
		writeJSONResult(os.Stdout, result)
	} else {
		printValidateText(os.Stdout, &card.Card, result)
	}

	if result.Success {
		return 0
	}
	return 1
}

func cmdVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit result as JSON")
	timeout := fs.Duration("timeout", verify.DefaultTimeout, "JWKS fetch timeout")
	allowInsecure := fs.Bool("allow-insecure", false, "permit http:// JWKS URIs")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "verify: exactly one card file or URL required")
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := loadCard(ctx, fs.Arg(0), *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardwarden: %v\n", err)
		return 2
	}
	card, err := protocol.ParseCard(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cardwarden: %v\n", err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := verify.New(verify.Config{Timeout: *timeout, AllowInsecure: *allowInsecure}, logger)
	result := v.VerifyCard(ctx, card)

	if *jsonOut {
		writeJSONResult(os.Stdout, result)
	} else {
		printVerifyText(os.Stdout, &card.Card, result)
	}

	if result.Valid {
		return 0
	}
	return 1
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "cardwarden: %v\n", err)
			return 2
		}
		cfg = loaded
	}

	server.Version = Version
	logger := server.BuildLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := serverFactory(cfg, logger)

	if cfg.Reload.Enabled && *configPath != "" {
		reloader := config.NewReloader(*configPath, cfg, logger)
		reloader.Register(srv)
		if err := reloader.Start(ctx); err != nil {
			logger.Error("starting config reloader", "error", err)
			return 1
		}
		defer reloader.Stop()
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error("server error", "error", err)
		return 1
	}
	return 0
}

func writeJSONResult(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printValidateText(w io.Writer, card *protocol.AgentCard, result validator.Result) {
	fmt.Fprintf(w, "Agent Card: %s", card.Name)
	if card.Version != "" {
		fmt.Fprintf(w, " (v%s)", card.Version)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Compliance: %.0f/100\n", result.ComplianceScore)
	fmt.Fprintf(w, "Trust:      %.0f/100\n", result.TrustScore)

	if result.Signatures != nil && result.Signatures.Summary.Total > 0 {
		fmt.Fprintf(w, "Signatures: %d/%d valid\n",
			result.Signatures.Summary.Valid, result.Signatures.Summary.Total)
	} else {
		fmt.Fprintln(w, "Signatures: none")
	}

	if result.Availability.Tested {
		if result.Availability.Error != "" {
			fmt.Fprintf(w, "Endpoint:   unreachable (%s)\n", result.Availability.Error)
		} else {
			fmt.Fprintf(w, "Endpoint:   reachable (%d ms)\n", result.Availability.LatencyMS)
		}
	}

	if len(result.Issues) > 0 {
		fmt.Fprintln(w, "Issues:")
		for _, issue := range result.Issues {
			fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Severity, issue.Code, issue.Message)
		}
	}

	if result.Success {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintln(w, "Result: INVALID")
	}
}

func printVerifyText(w io.Writer, card *protocol.AgentCard, result verify.VerificationResult) {
	fmt.Fprintf(w, "Agent Card: %s\n", card.Name)
	fmt.Fprintf(w, "Signatures: %d total, %d valid, %d failed\n",
		result.Summary.Total, result.Summary.Valid, result.Summary.Failed)

	for _, sig := range result.Signatures {
		status := "valid"
		if !sig.Valid {
			status = "invalid"
		}
		fmt.Fprintf(w, "  signature %d: %s", sig.Index, status)
		if sig.Algorithm != "" {
			fmt.Fprintf(w, " alg=%s", sig.Algorithm)
		}
		if sig.KeyID != "" {
			fmt.Fprintf(w, " kid=%s", sig.KeyID)
		}
		if sig.Error != "" {
			fmt.Fprintf(w, " (%s)", sig.Error)
		}
		fmt.Fprintln(w)
	}
	for _, msg := range result.Summary.Errors {
		fmt.Fprintf(w, "  %s\n", msg)
	}

	if result.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintln(w, "Result: INVALID")
	}
}
