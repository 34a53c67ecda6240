package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/flowreply/flowreply/internal/dispatch"
	"github.com/flowreply/flowreply/internal/genai"
	"github.com/flowreply/flowreply/internal/messaging"
	"github.com/flowreply/flowreply/internal/models"
	"github.com/flowreply/flowreply/internal/request"
	"github.com/flowreply/flowreply/internal/store"
	"github.com/flowreply/flowreply/internal/util"
	"github.com/flowreply/flowreply/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FlowReply state data
	DefaultStateDir = "/var/lib/flowreply"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "flowreply.db"
	// FlowsDirName is the subdirectory of the state dir holding authored
	// flow graph documents, one file per flow:
	// <state>/flows/<account>/<flow_id>.json
	FlowsDirName = "flows"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping FlowReply with configured modules")
	slog.Debug("Final configuration",
		"state_dir", *flags.stateDir,
		"dsn_set", *flags.dbDSN != "",
		"transport", *flags.transport,
		"account_id", *flags.accountID,
		"flow_id", *flags.flowID)
	if err := run(flags); err != nil {
		slog.Error("FlowReply failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FlowReply exited successfully")
}

// Config holds environment configuration
type Config struct {
	DBDSN       string
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	Transport   string
	AccountID   string
	FlowID      string
	NumericCode bool
	MaxDepth    int
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	transport *string
	accountID *string
	flowID    *string
	maxDepth  *int
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DBDSN:       os.Getenv("FLOWREPLY_DB_DSN"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("FLOWREPLY_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		Transport:   os.Getenv("FLOWREPLY_TRANSPORT"),
		AccountID:   os.Getenv("FLOWREPLY_ACCOUNT_ID"),
		FlowID:      os.Getenv("FLOWREPLY_FLOW_ID"),
		NumericCode: util.ParseBoolEnv("FLOWREPLY_NUMERIC_CODE", false),
		MaxDepth:    util.ParseIntEnv("FLOWREPLY_MAX_DEPTH", dispatch.DefaultMaxDepth),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FLOWREPLY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DBDSN == "" {
		config.DBDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as FLOWREPLY_DB_DSN", "dsn_set", true)
		}
	}
	if config.DBDSN == "" {
		config.DBDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DBDSN)
	}

	if config.Transport == "" {
		config.Transport = "whatsapp"
	}

	slog.Debug("environment variables loaded",
		"FLOWREPLY_DB_DSN_SET", config.DBDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FLOWREPLY_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"FLOWREPLY_TRANSPORT", config.Transport,
		"FLOWREPLY_ACCOUNT_ID", config.AccountID,
		"FLOWREPLY_FLOW_ID", config.FlowID)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:   flag.Bool("numeric-code", config.NumericCode, "use numeric WhatsApp login code instead of QR code (overrides $FLOWREPLY_NUMERIC_CODE)"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for FlowReply data (overrides $FLOWREPLY_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DBDSN, "database DSN for the flow store (overrides $FLOWREPLY_DB_DSN or $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for AI bot nodes (overrides $OPENAI_API_KEY)"),
		transport: flag.String("transport", config.Transport, "message transport: whatsapp, twilio or console (overrides $FLOWREPLY_TRANSPORT)"),
		accountID: flag.String("account-id", config.AccountID, "account the inbound conversation belongs to (overrides $FLOWREPLY_ACCOUNT_ID)"),
		flowID:    flag.String("flow-id", config.FlowID, "flow graph to run for inbound messages (overrides $FLOWREPLY_FLOW_ID)"),
		maxDepth:  flag.Int("max-depth", config.MaxDepth, "recursion bound for tool-driven fan-out (overrides $FLOWREPLY_MAX_DEPTH)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"transport", *flags.transport,
		"accountID", *flags.accountID,
		"flowID", *flags.flowID,
		"maxDepth", *flags.maxDepth)

	// Keep a flag-overridden state dir and a defaulted SQLite DSN in sync.
	if *flags.dbDSN == config.DBDSN && config.DBDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	flowsDir := filepath.Join(*flags.stateDir, FlowsDirName)
	if err := os.MkdirAll(flowsDir, 0755); err != nil {
		slog.Error("Failed to create flows directory", "error", err, "flows_dir", flowsDir)
		return err
	}
	return nil
}

// buildStore selects and opens the flow store backend from the DSN.
func buildStore(flags Flags) (store.Store, error) {
	switch store.DetectDSNType(*flags.dbDSN) {
	case "postgres":
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
	}
}

// buildTransport wires the configured message transport.
func buildTransport(flags Flags, st store.Store) (messaging.Service, error) {
	switch *flags.transport {
	case "twilio":
		return messaging.NewTwilioService(st)
	case "console":
		return messaging.NewConsoleService(st), nil
	case "whatsapp":
		var waOpts []whatsapp.Option
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client, st), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", *flags.transport)
	}
}

// run wires the modules together and consumes the inbound channel until a
// termination signal arrives. Inbound messages are processed sequentially,
// which serializes dispatch per conversation.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStore(flags)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Failed to close store", "error", err)
		}
	}()

	svc, err := buildTransport(flags, st)
	if err != nil {
		return fmt.Errorf("failed to initialize transport: %w", err)
	}

	dispOpts := []dispatch.Option{
		dispatch.WithRequester(request.NewClient()),
		dispatch.WithMaxDepth(*flags.maxDepth),
	}
	if *flags.openaiKey != "" {
		aiClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return fmt.Errorf("failed to initialize GenAI client: %w", err)
		}
		dispOpts = append(dispOpts, dispatch.WithResponder(genai.NewResponder(aiClient, svc)))
	} else {
		slog.Info("No OpenAI API key configured, AI bot nodes disabled")
	}
	disp := dispatch.NewDispatcher(st, svc, dispOpts...)

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			slog.Error("Failed to stop transport", "error", err)
		}
	}()

	slog.Info("FlowReply running", "transport", *flags.transport, "account_id", *flags.accountID, "flow_id", *flags.flowID)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown signal received")
			return nil
		case in, ok := <-svc.Inbound():
			if !ok {
				slog.Info("Inbound channel closed")
				return nil
			}
			handleInbound(ctx, flags, disp, in)
		}
	}
}

// handleInbound loads the configured flow graph and dispatches one inbound
// message at the graph entry node. Failures are logged, never fatal.
func handleInbound(ctx context.Context, flags Flags, disp *dispatch.Dispatcher, in messaging.Inbound) {
	graph, err := loadGraph(*flags.stateDir, *flags.accountID, *flags.flowID)
	if err != nil {
		slog.Error("Failed to load flow graph, dropping message", "error", err, "account_id", *flags.accountID, "flow_id", *flags.flowID, "from", in.From)
		return
	}
	entry, ok := entryNode(graph)
	if !ok {
		slog.Error("Flow graph has no entry node, dropping message", "account_id", *flags.accountID, "flow_id", *flags.flowID)
		return
	}

	inv := dispatch.Invocation{
		AccountID:  *flags.accountID,
		FlowID:     *flags.flowID,
		ChatID:     in.From,
		SenderID:   in.From,
		SenderName: in.Name,
		Message:    in.Body,
		Graph:      graph,
	}
	if err := disp.Dispatch(ctx, inv, entry); err != nil {
		slog.Error("Dispatch failed", "error", err, "from", in.From, "node_id", entry.ID)
	}
}

// loadGraph reads an authored flow graph document from the flows directory.
func loadGraph(stateDir, accountID, flowID string) (models.Graph, error) {
	path := filepath.Join(stateDir, FlowsDirName, accountID, flowID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Graph{}, fmt.Errorf("failed to read flow graph %s: %w", path, err)
	}
	graph, err := models.ParseGraph(data)
	if err != nil {
		return models.Graph{}, fmt.Errorf("failed to parse flow graph %s: %w", path, err)
	}
	return graph, nil
}

// entryNode picks the node no edge targets, falling back to the first node.
func entryNode(graph models.Graph) (models.Node, bool) {
	if len(graph.Nodes) == 0 {
		return models.Node{}, false
	}
	targeted := make(map[string]bool, len(graph.Edges))
	for _, e := range graph.Edges {
		targeted[e.Target] = true
	}
	for _, n := range graph.Nodes {
		if !targeted[n.ID] {
			return n, true
		}
	}
	return graph.Nodes[0], true
}
