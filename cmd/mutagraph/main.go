package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hanpama/mutagraph/internal/config"
	"github.com/hanpama/mutagraph/internal/dispatch"
	"github.com/hanpama/mutagraph/internal/eventbus"
	"github.com/hanpama/mutagraph/internal/eventstore"
	"github.com/hanpama/mutagraph/internal/extractor"
	"github.com/hanpama/mutagraph/internal/intercept"
	"github.com/hanpama/mutagraph/internal/language"
	"github.com/hanpama/mutagraph/internal/metrics"
	"github.com/hanpama/mutagraph/internal/mutation"
	"github.com/hanpama/mutagraph/internal/naming"
	"github.com/hanpama/mutagraph/internal/natstore"
	"github.com/hanpama/mutagraph/internal/otel"
	"github.com/hanpama/mutagraph/internal/server"
	"github.com/hanpama/mutagraph/internal/sink"
	"github.com/hanpama/mutagraph/internal/upstream"
)

const rootUsage = `mutagraph - GraphQL mutation event gateway

USAGE:
  mutagraph <command> [flags]

COMMANDS:
  serve      Run the gateway: intercept mutations, append events, relay the rest
  check      Derive and validate event names for a schema's mutation fields
  extract    Extract mutation calls from an operation without serving
  help       Show help for any command
`

const serveUsage = `serve FLAGS:
  -config <file>                       YAML config file; flags override it
  -server.addr <addr>                  HTTP listen address (default: :8080)
  -server.pretty                       Pretty-print gateway-built JSON responses
  -server.timeout <duration>           Per-request timeout, e.g. 10s (default: 10s)
  -server.max-body-bytes <n>           Request body limit in bytes (default: unlimited)
  -server.cors-origin <origin>         Allowed CORS origin. Repeatable
  -server.graphiql <bool>              Serve the GraphiQL IDE on GET (default: true)
  -graphql.schema <file>               SDL file; enables validation and startup name checks
  -graphql.stream-prefix <p>           Stream name prefix (default: graphql-mutation-)
  -graphql.type-namespace <ns>         Event type namespace (default: GraphQL.)
  -graphql.correlation-path <path>     Argument path probed for a correlation ID,
                                       e.g. metadata.correlationId. Repeatable
  -upstream.url <url>                  Upstream GraphQL endpoint (required)
  -upstream.timeout <duration>         Upstream request timeout (default: 30s)
  -upstream.forward-header <name>      Forward HTTP header to the upstream. Repeatable
  -sink.backend <name>                 eventstore, nats, or log (default: log)
  -eventstore.connection <string>      EventStoreDB connection string
  -nats.url <url>                      NATS server URL (default: nats://127.0.0.1:4222)
  -nats.stream <name>                  JetStream stream name (default: MUTAGRAPH)
  -nats.subject-prefix <p>             JetStream subject prefix (default: mutation)
  -dispatch.queue-capacity <n>         Per-stream queue capacity (default: 256)
  -dispatch.append-timeout <duration>  Per-append timeout (default: 10s)
  -dispatch.drain-timeout <duration>   Shutdown drain budget (default: 15s)
  -metrics.addr <addr>                 Serve Prometheus metrics on this address
  -otel.endpoint <addr>                OTLP collector endpoint
  -otel.service <name>                 OpenTelemetry service name (default: mutagraph)
  -log.level <level>                   debug, info, warn, or error (default: info)
  -log.format <format>                 text or json (default: text)
`

const checkUsage = `check FLAGS:
  -graphql.schema <file>          SDL file to check (required)
  -graphql.stream-prefix <p>      Stream name prefix (default: graphql-mutation-)
  -graphql.type-namespace <ns>    Event type namespace (default: GraphQL.)
  (Prints the field/stream/type table; exits non-zero on collisions)
`

const extractUsage = `extract FLAGS:
  -query <file>                     Operation document; - reads stdin (default: -)
  -operation <name>                 Operation to select when the document has several
  -vars <json>                      Variables as inline JSON, or @file
  -graphql.stream-prefix <p>        Stream name prefix (default: graphql-mutation-)
  -graphql.type-namespace <ns>      Event type namespace (default: GraphQL.)
  -graphql.correlation-path <path>  Correlation ID path. Repeatable
  (Writes one JSON line per extracted call: stream, event type, event body)
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("mutagraph", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "extract":
		return cmdExtract(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check":
		fmt.Print(checkUsage)
	case "extract":
		fmt.Print(extractUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// configPath scans args for -config ahead of flag parsing, so the file can
// seed the defaults the remaining flags override.
func configPath(args []string) string {
	for i, a := range args {
		switch {
		case a == "-config" || a == "--config":
			if i+1 < len(args) {
				return args[i+1]
			}
		case strings.HasPrefix(a, "-config="):
			return strings.TrimPrefix(a, "-config=")
		case strings.HasPrefix(a, "--config="):
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func cmdServe(args []string) error {
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return err
	}

	var corsOrigins, forwardHeaders, correlationPaths stringListFlag
	var configFile string

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&configFile, "config", "", "YAML config file")
	fs.StringVar(&cfg.Server.Addr, "server.addr", cfg.Server.Addr, "HTTP listen address")
	fs.BoolVar(&cfg.Server.Pretty, "server.pretty", cfg.Server.Pretty, "Pretty-print JSON responses")
	fs.DurationVar(&cfg.Server.Timeout, "server.timeout", cfg.Server.Timeout, "Per-request timeout")
	fs.Int64Var(&cfg.Server.MaxBodyBytes, "server.max-body-bytes", cfg.Server.MaxBodyBytes, "Request body limit")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.BoolVar(&cfg.Server.GraphiQL, "server.graphiql", cfg.Server.GraphiQL, "Serve the GraphiQL IDE")
	fs.StringVar(&cfg.GraphQL.SchemaFile, "graphql.schema", cfg.GraphQL.SchemaFile, "SDL file")
	fs.StringVar(&cfg.GraphQL.StreamPrefix, "graphql.stream-prefix", cfg.GraphQL.StreamPrefix, "Stream name prefix")
	fs.StringVar(&cfg.GraphQL.TypeNamespace, "graphql.type-namespace", cfg.GraphQL.TypeNamespace, "Event type namespace")
	fs.Var(&correlationPaths, "graphql.correlation-path", "Correlation ID argument path")
	fs.StringVar(&cfg.Upstream.URL, "upstream.url", cfg.Upstream.URL, "Upstream GraphQL endpoint")
	fs.DurationVar(&cfg.Upstream.Timeout, "upstream.timeout", cfg.Upstream.Timeout, "Upstream request timeout")
	fs.Var(&forwardHeaders, "upstream.forward-header", "Forward HTTP header to the upstream")
	fs.StringVar(&cfg.Sink.Backend, "sink.backend", cfg.Sink.Backend, "Sink backend")
	fs.StringVar(&cfg.EventStore.Connection, "eventstore.connection", cfg.EventStore.Connection, "EventStoreDB connection string")
	fs.StringVar(&cfg.NATS.URL, "nats.url", cfg.NATS.URL, "NATS server URL")
	fs.StringVar(&cfg.NATS.Stream, "nats.stream", cfg.NATS.Stream, "JetStream stream name")
	fs.StringVar(&cfg.NATS.SubjectPrefix, "nats.subject-prefix", cfg.NATS.SubjectPrefix, "JetStream subject prefix")
	fs.IntVar(&cfg.Dispatch.QueueCapacity, "dispatch.queue-capacity", cfg.Dispatch.QueueCapacity, "Per-stream queue capacity")
	fs.DurationVar(&cfg.Dispatch.AppendTimeout, "dispatch.append-timeout", cfg.Dispatch.AppendTimeout, "Per-append timeout")
	fs.DurationVar(&cfg.Dispatch.DrainTimeout, "dispatch.drain-timeout", cfg.Dispatch.DrainTimeout, "Shutdown drain budget")
	fs.StringVar(&cfg.Metrics.Addr, "metrics.addr", cfg.Metrics.Addr, "Prometheus metrics address")
	fs.StringVar(&cfg.OTel.Endpoint, "otel.endpoint", cfg.OTel.Endpoint, "OTLP collector endpoint")
	fs.StringVar(&cfg.OTel.Service, "otel.service", cfg.OTel.Service, "OpenTelemetry service name")
	fs.StringVar(&cfg.Log.Level, "log.level", cfg.Log.Level, "Log level")
	fs.StringVar(&cfg.Log.Format, "log.format", cfg.Log.Format, "Log format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if len(corsOrigins) > 0 {
		cfg.Server.CORSOrigins = corsOrigins
	}
	if len(forwardHeaders) > 0 {
		cfg.Upstream.ForwardHeaders = forwardHeaders
	}
	if len(correlationPaths) > 0 {
		cfg.GraphQL.CorrelationPaths = correlationPaths
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.OTel.Endpoint, cfg.OTel.Service)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := naming.Default()
	if cfg.GraphQL.StreamPrefix != "" {
		policy.StreamPrefix = cfg.GraphQL.StreamPrefix
	}
	if cfg.GraphQL.TypeNamespace != "" {
		policy.TypeNamespace = cfg.GraphQL.TypeNamespace
	}

	var sch *language.Schema
	if cfg.GraphQL.SchemaFile != "" {
		raw, err := os.ReadFile(cfg.GraphQL.SchemaFile)
		if err != nil {
			return fmt.Errorf("read schema: %w", err)
		}
		sch, err = language.LoadSchema(filepath.Base(cfg.GraphQL.SchemaFile), string(raw))
		if err != nil {
			return fmt.Errorf("load schema: %w", err)
		}
		if err := policy.Validate(language.MutationFieldNames(sch)); err != nil {
			return fmt.Errorf("naming check: %w", err)
		}
	}

	set := metrics.New()

	var backend sink.Sink
	var closeBackend func() error
	switch cfg.Sink.Backend {
	case "eventstore":
		es, err := eventstore.Dial(cfg.EventStore.Connection, logger)
		if err != nil {
			return fmt.Errorf("eventstore: %w", err)
		}
		backend, closeBackend = es, es.Close
	case "nats":
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		ns, err := natstore.Dial(dctx, cfg.NATS.URL, logger,
			natstore.WithStreamName(cfg.NATS.Stream),
			natstore.WithSubjectPrefix(cfg.NATS.SubjectPrefix))
		cancel()
		if err != nil {
			return err
		}
		backend, closeBackend = ns, ns.Close
	default:
		backend = sink.NewLogging(logger)
	}
	if closeBackend != nil {
		defer func() { _ = closeBackend() }()
	}

	dispatcher := dispatch.New(backend,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(set),
		dispatch.WithQueueCapacity(cfg.Dispatch.QueueCapacity),
		dispatch.WithAppendTimeout(cfg.Dispatch.AppendTimeout),
		dispatch.WithBackendName(cfg.Sink.Backend))

	pipeline := intercept.New(
		extractor.New(policy, extractor.WithCorrelationPaths(cfg.GraphQL.CorrelationPaths...)),
		dispatcher,
		intercept.WithLogger(logger),
		intercept.WithMetrics(set))

	up := upstream.New(cfg.Upstream.URL,
		upstream.WithTimeout(cfg.Upstream.Timeout),
		upstream.WithForwardHeaders(cfg.Upstream.ForwardHeaders...))

	sopts := []server.Option{server.WithGraphiQL(cfg.Server.GraphiQL)}
	if cfg.Server.Pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if cfg.Server.Timeout > 0 {
		sopts = append(sopts, server.WithTimeout(cfg.Server.Timeout))
	}
	if cfg.Server.MaxBodyBytes > 0 {
		sopts = append(sopts, server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(cfg.Server.CORSOrigins...))
	}
	h, err := server.New(pipeline, up, sch, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}

	var msrv *http.Server
	if cfg.Metrics.Addr != "" {
		mmux := http.NewServeMux()
		mmux.Handle("/metrics", set.Handler())
		msrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mmux}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gateway listening", "addr", cfg.Server.Addr, "upstream", cfg.Upstream.URL, "backend", cfg.Sink.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if msrv != nil {
		g.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.Metrics.Addr)
			if err := msrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
		if msrv != nil {
			_ = msrv.Shutdown(sctx)
		}
		// Intake is closed once the HTTP server stops accepting requests;
		// give queued appends the rest of the budget to land.
		if err := dispatcher.Close(sctx); err != nil {
			logger.Error("dispatch drain", "error", err)
		}
		return nil
	})
	return g.Wait()
}

func cmdCheck(args []string) error {
	schemaFile := ""
	prefix := naming.DefaultStreamPrefix
	namespace := naming.DefaultTypeNamespace

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "graphql.schema", schemaFile, "SDL file to check")
	fs.StringVar(&prefix, "graphql.stream-prefix", prefix, "Stream name prefix")
	fs.StringVar(&namespace, "graphql.type-namespace", namespace, "Event type namespace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-graphql.schema is required")
	}

	raw, err := os.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	sch, err := language.LoadSchema(filepath.Base(schemaFile), string(raw))
	if err != nil {
		return fmt.Errorf("load schema: %w", err)
	}
	fields := language.MutationFieldNames(sch)
	if len(fields) == 0 {
		fmt.Println("schema has no mutation fields")
		return nil
	}

	policy := naming.Policy{StreamPrefix: prefix, TypeNamespace: namespace}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FIELD\tSTREAM\tEVENT TYPE")
	for _, f := range fields {
		n := policy.Names(f)
		fmt.Fprintf(w, "%s\t%s\t%s\n", f, n.Stream, n.EventType)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return policy.Validate(fields)
}

func cmdExtract(args []string) error {
	queryFile := "-"
	operation := ""
	varsArg := ""
	prefix := naming.DefaultStreamPrefix
	namespace := naming.DefaultTypeNamespace
	var correlationPaths stringListFlag

	fs := flag.NewFlagSet("extract", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&queryFile, "query", queryFile, "Operation document, - for stdin")
	fs.StringVar(&operation, "operation", operation, "Operation name")
	fs.StringVar(&varsArg, "vars", varsArg, "Variables JSON or @file")
	fs.StringVar(&prefix, "graphql.stream-prefix", prefix, "Stream name prefix")
	fs.StringVar(&namespace, "graphql.type-namespace", namespace, "Event type namespace")
	fs.Var(&correlationPaths, "graphql.correlation-path", "Correlation ID argument path")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, extractUsage)
		return err
	}

	var raw []byte
	var err error
	if queryFile == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(queryFile)
	}
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	doc, err := language.ParseQuery(string(raw))
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}

	var vars mutation.Variables
	if varsArg != "" {
		data := []byte(varsArg)
		if strings.HasPrefix(varsArg, "@") {
			data, err = os.ReadFile(strings.TrimPrefix(varsArg, "@"))
			if err != nil {
				return fmt.Errorf("read vars: %w", err)
			}
		}
		vars, err = mutation.DecodeVariables(data)
		if err != nil {
			return fmt.Errorf("decode vars: %w", err)
		}
	}

	policy := naming.Policy{StreamPrefix: prefix, TypeNamespace: namespace}
	x := extractor.New(policy, extractor.WithCorrelationPaths(correlationPaths...))
	calls, err := x.Extract(doc, operation, vars)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	for _, c := range calls {
		body, err := c.Body()
		if err != nil {
			return err
		}
		line := struct {
			Stream    string          `json:"stream"`
			EventType string          `json:"eventType"`
			Event     json.RawMessage `json:"event"`
		}{c.Stream, c.EventType, body}
		if err := enc.Encode(line); err != nil {
			return err
		}
	}
	return nil
}
