// Command concierge runs an interactive chat session against the routing
// pipeline: queries are normalized, served from cache when possible, routed
// to company documents, web search, or the model itself, and cached.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/concierge"
	"github.com/nevindra/concierge/internal/config"
	"github.com/nevindra/concierge/knowledge"
	"github.com/nevindra/concierge/observer"
	"github.com/nevindra/concierge/provider/openaicompat"
	"github.com/nevindra/concierge/search"
	"github.com/nevindra/concierge/store/postgres"
	"github.com/nevindra/concierge/store/sqlite"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONCIERGE_CONFIG"), "path to concierge.toml")
	debug := flag.Bool("debug", false, "verbose logging to stderr")
	flag.Parse()

	ctx := context.Background()

	// 1. Load config
	cfg := config.Load(*configPath)

	logger := slog.New(slog.DiscardHandler)
	if *debug {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	// 2. Create provider
	chatLLM := concierge.Provider(openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL))
	chatLLM = concierge.WithRetry(chatLLM, concierge.RetryLogger(logger))
	routerLLM := chatLLM
	if cfg.Router.Model != cfg.LLM.Model || cfg.Router.APIKey != cfg.LLM.APIKey {
		routerLLM = concierge.WithRetry(
			openaicompat.NewProvider(cfg.Router.APIKey, cfg.Router.Model, cfg.LLM.BaseURL),
			concierge.RetryLogger(logger),
		)
	}

	// 3. Observability (optional)
	var obs concierge.TurnObserver
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		chatLLM = observer.WrapProvider(chatLLM, cfg.LLM.Model, inst)
		routerLLM = observer.WrapProvider(routerLLM, cfg.Router.Model, inst)
		obs = observer.NewTurnMetrics(inst)
	}

	// 4. Create cache
	cache := openCache(ctx, cfg)
	defer cache.Close()

	// 5. Load company documents
	corpus, err := knowledge.Load(cfg.Knowledge.Dir, knowledge.WithLogger(logger))
	if err != nil {
		log.Fatalf("load documents: %v", err)
	}

	// 6. Assemble the pipeline
	guard := concierge.NewGuard(
		concierge.GuardPatterns(cfg.Safety.Patterns...),
		concierge.GuardLogger(logger),
	)
	router := concierge.NewRouter(
		concierge.NewDecider(routerLLM, corpus.SummariesPrompt(), concierge.DeciderLogger(logger)),
		concierge.RouterSafety(guard),
		concierge.RouterLogger(logger),
	)
	gen := concierge.NewGenerator(chatLLM, concierge.GeneratorLogger(logger))

	opts := []concierge.PipelineOption{
		concierge.WithCache(cache, cfg.Cache.AgentType),
		concierge.WithDocuments(corpus),
		concierge.WithLogger(logger),
	}
	if cfg.Search.SerperAPIKey != "" {
		opts = append(opts, concierge.WithWebSearch(search.New(cfg.Search.SerperAPIKey,
			search.WithMaxResults(cfg.Search.MaxResults),
			search.WithFetchPages(cfg.Search.FetchPages),
			search.WithLogger(logger),
		)))
	}
	if obs != nil {
		opts = append(opts, concierge.WithObserver(obs))
	}
	pipeline := concierge.NewPipeline(router, gen, opts...)

	// 7. REPL
	fmt.Printf("concierge ready (%d documents, agent type %q). Type a question, or 'quit' to exit.\n",
		corpus.Len(), pipeline.AgentType())
	repl(ctx, pipeline, corpus, *debug)
}

func openCache(ctx context.Context, cfg config.Config) concierge.Cache {
	var cache concierge.Cache
	switch cfg.Cache.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Cache.PostgresURL)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		cache = postgres.New(pool, postgres.WithTTL(cfg.Cache.TTLDays))
	default:
		cache = sqlite.New(cfg.Cache.Path, sqlite.WithTTL(cfg.Cache.TTLDays))
	}
	if err := cache.Init(ctx); err != nil {
		log.Fatalf("cache init: %v", err)
	}
	if n, err := cache.Cleanup(ctx); err == nil && n > 0 {
		log.Printf("removed %d expired cache entries", n)
	}
	return cache
}

func repl(ctx context.Context, pipeline *concierge.Pipeline, corpus *knowledge.Corpus, debug bool) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "quit", "exit":
			return
		case "reset":
			pipeline.Reset()
			fmt.Println("conversation cleared")
			continue
		case "docs":
			if corpus.Len() == 0 {
				fmt.Println("no company documents loaded")
				continue
			}
			for _, f := range corpus.Filenames() {
				fmt.Println(" ", f)
			}
			continue
		case "cache":
			printStats(ctx, pipeline)
			continue
		case "cache clear":
			n, err := pipeline.CacheClear(ctx, pipeline.AgentType())
			if err != nil {
				fmt.Printf("error: %v\n", err)
				continue
			}
			fmt.Printf("cleared %d cached responses\n", n)
			continue
		}

		start := time.Now()
		answer, decision, err := pipeline.Handle(ctx, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		if debug {
			fmt.Printf("[action=%s cached=%t fallback=%t %s]\n",
				decision.Action, decision.FromCache, decision.Fallback,
				time.Since(start).Round(time.Millisecond))
		}
		fmt.Println(answer)
	}
}

func printStats(ctx context.Context, pipeline *concierge.Pipeline) {
	stats, err := pipeline.CacheStats(ctx)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("entries: %d total, %d valid (ttl %d days)\n",
		stats.TotalEntries, stats.ValidEntries, stats.TTLDays)
	fmt.Printf("hits: %d total, %.1f avg per entry\n", stats.TotalHits, stats.AvgHits)
	for agent, as := range stats.PerAgent {
		fmt.Printf("  %s: %d entries, %d hits\n", agent, as.Entries, as.Hits)
	}
}
