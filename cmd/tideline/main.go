// Command tideline is a terminal chat client driving a tideline Session.
//
// Models, search and storage are configured in tideline.toml (see
// internal/config). Each line typed at the prompt is one turn; Ctrl-C
// cancels the running turn and Ctrl-D exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"

	"github.com/nevindra/tideline"
	"github.com/nevindra/tideline/ingest"
	"github.com/nevindra/tideline/ingest/pdf"
	"github.com/nevindra/tideline/internal/config"
	memsqlite "github.com/nevindra/tideline/memory/sqlite"
	"github.com/nevindra/tideline/observer"
	"github.com/nevindra/tideline/provider/resolve"
	"github.com/nevindra/tideline/recognize"
	"github.com/nevindra/tideline/store/postgres"
	"github.com/nevindra/tideline/store/sqlite"
	"github.com/nevindra/tideline/tokenizer/tiktoken"
	httptool "github.com/nevindra/tideline/tools/http"
	memtool "github.com/nevindra/tideline/tools/memory"
	"github.com/nevindra/tideline/tools/search"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		conversationID string
		browse         bool
		tools          bool
		verbose        bool
	)
	flagSet := pflag.NewFlagSet("tideline", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", os.Getenv("TIDELINE_CONFIG"), "path to tideline.toml")
	flagSet.StringVar(&conversationID, "conversation", "", "resume an existing conversation by ID")
	flagSet.BoolVarP(&browse, "browse", "b", false, "search the web before answering")
	flagSet.BoolVarP(&tools, "tools", "t", false, "let the chat model call tools")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(cfg.Models) == 0 {
		return fmt.Errorf("no models configured; add a [[models]] table to %s", orDefault(configPath, "tideline.toml"))
	}

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	session, err := a.session(ctx, conversationID)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "conversation %s (chat model %s)\n", session.ID(), session.Models().Chat)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	r := newREPL(session, os.Stdout, sigs)
	r.opts = tideline.TurnOptions{Browsing: browse, Tools: tools}
	return r.run(ctx, os.Stdin)
}

// app holds the collaborators shared by every session of the process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    tideline.Store
	memory   *memsqlite.Store
	registry *tideline.ModelRegistry
	inst     *observer.Instruments
	opts     []tideline.SessionOption
	closers  []func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var wrap []resolve.Wrapper
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		a.inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return nil, fmt.Errorf("observer: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(sctx)
		})
		wrap = append(wrap, func(p tideline.Provider, mc resolve.Config) tideline.Provider {
			return observer.WrapProvider(p, orDefault(mc.Model, mc.ID), a.inst)
		})
		a.opts = append(a.opts, tideline.WithTracer(observer.NewTracer()))
	}

	a.registry, err = resolve.Registry(cfg.ResolveModels(), wrap...)
	if err != nil {
		return nil, err
	}

	if err := a.openStores(ctx); err != nil {
		return nil, err
	}

	sensitivity, _ := cfg.Sensitivity()
	locale, _ := cfg.Locale()
	scope, _ := cfg.MemoryScope()
	a.opts = append(a.opts,
		tideline.WithLogger(logger),
		tideline.WithModelDefaults(cfg.ModelDefaults()),
		tideline.WithSensitivity(sensitivity),
		tideline.WithSystemPrompt(cfg.Prompt.Base, cfg.Prompt.Additional),
		tideline.WithRuntimeInfo(cfg.Prompt.RuntimeInfo),
		tideline.WithLocale(locale),
		tideline.WithAppName(cfg.Prompt.AppName),
		tideline.WithMemory(a.memory, scope),
		tideline.WithMaxToolRounds(cfg.Session.MaxToolRounds),
		tideline.WithPacing(cfg.Session.PacingInterval.Duration),
		tideline.WithCollapseReasoning(cfg.Session.CollapseReasoning),
		tideline.WithDocumentExtractor(ingest.NewRouter(ingest.WithExtractor(ingest.TypePDF, pdf.NewExtractor()))),
		tideline.WithEncoder(encoder(cfg.Session.Encoding, logger)),
		tideline.WithRecognizers(recognizers(cfg.Recognize, logger)),
	)

	if cfg.Search.BraveAPIKey != "" {
		engine := search.New(cfg.Search.BraveAPIKey, search.WithLogger(logger))
		a.opts = append(a.opts, tideline.WithSearchEngine(engine, tideline.WithResultBudget(cfg.Search.ResultBudget)))
	}
	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	if dsn := a.cfg.Database.PostgresDSN; dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		store := postgres.New(pool, postgres.WithLogger(a.logger))
		if err := store.Init(ctx); err != nil {
			return err
		}
		a.store = store

		mem, err := memsqlite.New(a.cfg.Database.Path, memsqlite.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, mem.Close)
		a.memory = mem
	} else {
		store, err := sqlite.New(a.cfg.Database.Path, sqlite.WithLogger(a.logger))
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		if err := store.Init(ctx); err != nil {
			return err
		}
		a.store = store
		a.memory = memsqlite.NewWithDB(store.DB(), memsqlite.WithLogger(a.logger))
	}
	return a.memory.Init(ctx)
}

// session opens conversationID, or a new conversation when it is empty.
// Tools are built per session so memories record their conversation.
func (a *app) session(ctx context.Context, conversationID string) (*tideline.Session, error) {
	if conversationID == "" {
		conv, err := tideline.NewConversation(ctx, a.store, "New Conversation")
		if err != nil {
			return nil, err
		}
		conversationID = conv.ID
	}
	tools := []tideline.Tool{
		memtool.New(a.memory, memtool.WithConversationID(conversationID)),
		httptool.New(nil),
	}
	if a.inst != nil {
		for i, t := range tools {
			tools[i] = observer.WrapTool(t, a.inst)
		}
	}
	registry := tideline.NewToolRegistry(tools...)
	opts := append([]tideline.SessionOption{tideline.WithTools(registry)}, a.opts...)
	return tideline.NewSession(ctx, a.store, a.registry, conversationID, opts...)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func encoder(encoding string, logger *slog.Logger) tideline.Encoder {
	if encoding == "" || encoding == "heuristic" {
		return tideline.HeuristicEncoder{}
	}
	enc, err := tiktoken.New(encoding)
	if err != nil {
		logger.Warn("token encoder unavailable, using estimate", "encoding", encoding, "error", err)
	}
	return tiktoken.Fallback(enc, err)
}

func recognizers(cfg config.RecognizeConfig, logger *slog.Logger) (tideline.TextRecognizer, tideline.CodeRecognizer) {
	var (
		text tideline.TextRecognizer
		code tideline.CodeRecognizer
	)
	if cfg.Tesseract != "" {
		ocr := recognize.NewTesseract(recognize.WithBinary(cfg.Tesseract), recognize.WithLanguages(cfg.Languages))
		if ocr.Available() {
			text = ocr
		} else {
			logger.Info("tesseract not found, OCR disabled", "binary", cfg.Tesseract)
		}
	}
	if cfg.QR {
		code = recognize.NewQR()
	}
	return text, code
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
