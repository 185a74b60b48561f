package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitrineai/vitrine/assist"
	"github.com/vitrineai/vitrine/assist/analytics"
	"github.com/vitrineai/vitrine/assist/backend"
	"github.com/vitrineai/vitrine/assist/catalog"
	"github.com/vitrineai/vitrine/assist/metrics"
	"github.com/vitrineai/vitrine/internal/profile"
	"github.com/vitrineai/vitrine/internal/version"
	"github.com/vitrineai/vitrine/server/devstub"
)

var rootCmd = &cobra.Command{
	Use:   "vitrine",
	Short: `A conversational storefront assistant. Chat about products and get ranked recommendations streamed into the conversation.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Load .env from the current directory when present.
		_ = godotenv.Load()
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:           viper.GetString("mode"),
			BackendBaseURL: viper.GetString("backend-url"),
			Version:        version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if url := viper.GetString("analytics-url"); url != "" {
			instanceProfile.AnalyticsURL = url
		}
		if path := viper.GetString("analytics-fallback"); path != "" {
			instanceProfile.AnalyticsFallback = path
		}
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-c
			cancel()
		}()

		// Demo mode runs against the built-in stub backend.
		if viper.GetBool("demo") || instanceProfile.Mode == "demo" {
			addr := fmt.Sprintf("localhost:%d", viper.GetInt("demo-port"))
			stub := devstub.NewServer()
			go func() {
				if err := stub.Start(ctx, addr); err != nil {
					slog.Error("stub backend failed", "error", err)
					cancel()
				}
			}()
			instanceProfile.BackendBaseURL = "http://" + addr
			if instanceProfile.AnalyticsURL == "" {
				instanceProfile.AnalyticsURL = "http://" + addr + "/analytics/events"
			}
		}

		exporter := metrics.NewExporter()
		if port := viper.GetInt("metrics-port"); port > 0 {
			go serveMetrics(ctx, exporter, port)
		}

		var sink *analytics.Sink
		if instanceProfile.AnalyticsURL != "" || instanceProfile.AnalyticsFallback != "" {
			var err error
			sink, err = analytics.NewSink(analytics.Config{
				URL:          instanceProfile.AnalyticsURL,
				FlushEvery:   instanceProfile.AnalyticsFlushEvery,
				BatchSize:    instanceProfile.AnalyticsBatchSize,
				FallbackPath: instanceProfile.AnalyticsFallback,
			})
			if err != nil {
				return err
			}
		}

		engine := assist.NewEngine(instanceProfile, backend.NewClient(instanceProfile.BackendBaseURL), assist.Options{
			Sink:    sink,
			Metrics: exporter,
		})
		defer engine.Close()

		printGreetings(instanceProfile)
		return runChat(ctx, engine, viper.GetString("user"))
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("demo-port", 28085)

	rootCmd.PersistentFlags().String("mode", "demo", `mode, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("backend-url", "", "base URL of the storefront backend")
	rootCmd.PersistentFlags().String("analytics-url", "", "analytics delivery endpoint")
	rootCmd.PersistentFlags().String("analytics-fallback", "", "sqlite file for undelivered analytics batches")
	rootCmd.PersistentFlags().String("user", "local", "user identity for the conversation")
	rootCmd.PersistentFlags().Bool("demo", false, "run against the built-in stub backend")
	rootCmd.PersistentFlags().Int("demo-port", 28085, "port for the built-in stub backend")
	rootCmd.PersistentFlags().Int("metrics-port", 0, "serve Prometheus metrics on this port (0 disables)")

	for _, key := range []string{"mode", "backend-url", "analytics-url", "analytics-fallback", "user", "demo", "demo-port", "metrics-port"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("vitrine")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func serveMetrics(ctx context.Context, exporter *metrics.Exporter, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Warn("metrics server failed", "error", err)
	}
}

// runChat is a line-oriented chat loop. The engine is event-driven; the
// terminal renders it by polling the conversation's visible state.
func runChat(ctx context.Context, engine *assist.Engine, userID string) error {
	conv := engine.Conversation(userID)
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println(`Type a message and press enter. "/quit" exits.`)
	for {
		// Retry a message that queued up while the backend was unreachable.
		if conv.HasQueued() {
			before := assistantCount(conv)
			if err := conv.FlushQueued(ctx); err == nil && !conv.HasQueued() {
				renderTurn(ctx, conv, before)
			}
		}

		fmt.Print("\nyou> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if line == "" {
			continue
		}

		before := assistantCount(conv)
		if err := conv.SubmitTurn(ctx, line); err != nil {
			switch {
			case errors.Is(err, assist.ErrCooldown):
				fmt.Println("(too fast, give it a moment)")
			case errors.Is(err, assist.ErrEmptyMessage):
			default:
				fmt.Printf("(error: %v)\n", err)
			}
			continue
		}
		if conv.HasQueued() {
			fmt.Println("(backend unreachable, message queued)")
			continue
		}
		renderTurn(ctx, conv, before)
	}
}

// renderTurn prints the streaming reply as it grows and the final message
// with its product cards once the turn closes.
func renderTurn(ctx context.Context, conv *assist.Conversation, before int) {
	fmt.Print("vitrine> ")
	var printed int
	deadline := time.Now().Add(45 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(80 * time.Millisecond):
		}

		if partial := conv.Partial(); len(partial) > printed {
			fmt.Print(partial[printed:])
			printed = len(partial)
		}

		if assistantCount(conv) > before {
			history := conv.History()
			last := history[len(history)-1]
			if len(last.Text) > printed {
				fmt.Print(last.Text[printed:])
			}
			fmt.Println()
			printProducts(conv)
			return
		}
	}
	fmt.Println("\n(still waiting on the backend, moving on)")
}

func printProducts(conv *assist.Conversation) {
	highlighted, feed := conv.Products()
	if len(highlighted) == 0 && len(feed) == 0 {
		return
	}
	fmt.Println("\n  Destaques:")
	for i := range highlighted {
		printProduct(&highlighted[i])
	}
	if len(feed) > 0 {
		fmt.Println("  Mais opções:")
		for i := range feed {
			printProduct(&feed[i])
		}
	}
}

func printProduct(p *catalog.Product) {
	price := "-"
	if v, ok := p.AnyPrice(); ok {
		price = fmt.Sprintf("US$ %.0f", v)
	}
	fmt.Printf("   - %-45s %10s  %.1f\n", p.Title, price, p.Rating)
}

func assistantCount(conv *assist.Conversation) int {
	n := 0
	for _, m := range conv.History() {
		if m.Role == assist.RoleAssistant {
			n++
		}
	}
	return n
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("vitrine %s\n", p.Version)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Backend: %s\n", p.BackendBaseURL)
	if p.IsDev() && p.AnalyticsURL != "" {
		fmt.Fprintf(os.Stderr, "Analytics: %s\n", p.AnalyticsURL)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("vitrine exited", "error", err)
		os.Exit(1)
	}
}
