package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pbaille/tweetpipe/internal/api"
	"github.com/pbaille/tweetpipe/internal/config"
	"github.com/pbaille/tweetpipe/internal/domain"
	"github.com/pbaille/tweetpipe/internal/generator"
	"github.com/pbaille/tweetpipe/internal/notify"
	"github.com/pbaille/tweetpipe/internal/ocr"
	"github.com/pbaille/tweetpipe/internal/pipeline"
	"github.com/pbaille/tweetpipe/internal/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	v          = config.New()
	configFile string
	cfg        *config.Config
	logger     *slog.Logger

	dim   = color.New(color.FgHiBlack)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
	bold  = color.New(color.Bold)
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "tweetpipe",
		Short:         "Turn screen activity into social post drafts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(); err != nil {
				return err
			}
			c, err := config.Load(v, configFile)
			if err != nil {
				return err
			}
			l, err := c.Log.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			cfg, logger = c, l
			slog.SetDefault(l)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml)")
	flags.String("data-dir", config.DefaultDataDir(), "directory holding settings and history")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	_ = v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(ocrCmd())
	rootCmd.AddCommand(configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		red.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// app holds the collaborators built from the loaded configuration
type app struct {
	settings  *store.SettingsStore
	history   *store.HistoryStore
	source    ocr.Source
	generator *generator.Generator
	notifier  notify.Notifier
	closers   []io.Closer
}

func newApp() (*app, error) {
	a := &app{
		settings: store.NewSettingsStore(cfg.DataDir, cfg.DefaultSettings()),
		history:  store.NewHistoryStore(cfg.DataDir),
	}

	if cfg.Screenpipe.DBPath != "" {
		src, err := ocr.NewSQLiteSource(cfg.Screenpipe.DBPath)
		if err != nil {
			return nil, err
		}
		a.source = src
		a.closers = append(a.closers, src)
	} else {
		src, err := ocr.NewHTTPSource(cfg.Screenpipe.APIURL, cfg.HTTP.Timeout)
		if err != nil {
			return nil, err
		}
		a.source = src
	}

	a.generator = generator.New(generator.NewModelFactory(generator.ProviderConfig{
		OllamaURL: cfg.Ollama.URL,
		Timeout:   cfg.HTTP.Timeout,
	}), logger)
	a.notifier = notify.NewScreenpipe(cfg.Screenpipe.NotifyURL, 5*time.Second)
	return a, nil
}

func (a *app) runner() (*pipeline.Runner, error) {
	return pipeline.New(pipeline.Config{
		Source:    a.source,
		Settings:  a.settings,
		Generator: a.generator,
		History:   a.history,
		Notifier:  a.notifier,
		PageSize:  cfg.OCR.PageSize,
		Logger:    logger,
	})
}

func (a *app) Close() {
	for _, c := range a.closers {
		c.Close()
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner()
			if err != nil {
				return err
			}

			server := api.New(api.Config{
				Addr:      cfg.Listen,
				Runner:    r,
				Settings:  a.settings,
				History:   a.history,
				Generator: a.generator,
				Source:    a.source,
				Retention: cfg.Retention(),
				Logger:    logger,
			})

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error { return server.Run(ctx) })
			if every := cfg.Schedule.Interval; every > 0 {
				g.Go(func() error { return schedule(ctx, r, every) })
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringP("addr", "a", ":8080", "server address")
	cmd.Flags().Duration("every", 0, "also run the pipeline on this interval (e.g. 30m)")
	_ = v.BindPFlag("listen", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("schedule.interval", cmd.Flags().Lookup("every"))
	return cmd
}

// schedule runs the pipeline every interval until ctx ends. Runs never
// overlap; a failed run is logged and the loop continues.
func schedule(ctx context.Context, r *pipeline.Runner, every time.Duration) error {
	logger.Info("scheduler started", "every", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Run(ctx); err != nil {
				logger.Error("scheduled run failed", "message", pipeline.Message(err), "error", err)
			}
		}
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once and print the new drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.runner()
			if err != nil {
				return err
			}

			res, err := r.Run(cmd.Context())
			if err != nil {
				return errors.New(pipeline.Message(err))
			}

			green.Println(pipeline.MsgSuccess)
			printBatch(res.Key, res.Drafts)
			return nil
		},
	}
}

func historyCmd() *cobra.Command {
	var latest bool
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored draft batches, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			all, err := a.history.ReadAll(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("No drafts yet. Use 'tweetpipe run' to generate some.")
				return nil
			}

			keys := store.SortedKeys(all)
			if latest {
				limit = 1
			}
			shown := 0
			for i := len(keys) - 1; i >= 0; i-- {
				if limit > 0 && shown == limit {
					break
				}
				printBatch(keys[i], all[keys[i]])
				shown++
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&latest, "latest", false, "show only the latest batch")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of batches to show (0 for all)")
	return cmd
}

func pruneCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete batches older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			retention := cfg.Retention()
			if cmd.Flags().Changed("days") {
				if days < 1 {
					return fmt.Errorf("--days must be positive")
				}
				retention = time.Duration(days) * 24 * time.Hour
			}

			removed, err := a.history.Prune(cmd.Context(), retention)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s (cutoff %s).\n",
				plural(removed, "batch", "batches"), humanize.Time(time.Now().Add(-retention)))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "retention in days")
	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change generation settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show current settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.settings.Read(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(s)
			return nil
		},
	})

	set := &cobra.Command{
		Use:   "set",
		Short: "Update one or more settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.SettingsPatch
			for name, field := range map[string]**string{
				"provider": &patch.Provider,
				"model":    &patch.Model,
				"api-key":  &patch.APIKey,
				"mood":     &patch.Mood,
			} {
				if cmd.Flags().Changed(name) {
					val, _ := cmd.Flags().GetString(name)
					*field = &val
				}
			}
			if patch == (domain.SettingsPatch{}) {
				return fmt.Errorf("nothing to update; pass at least one of --provider, --model, --api-key, --mood")
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.settings.Write(cmd.Context(), patch)
			if err != nil {
				return err
			}
			green.Println("Settings saved.")
			printSettings(s)
			return nil
		},
	}
	set.Flags().String("provider", "", "provider ("+providerList()+")")
	set.Flags().String("model", "", "model name")
	set.Flags().String("api-key", "", "provider API key")
	set.Flags().String("mood", "", "tone of the drafts")
	cmd.AddCommand(set)

	return cmd
}

func ocrCmd() *cobra.Command {
	var q ocr.Query
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ocr",
		Short: "Browse captured screen text",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			page, err := a.source.Query(cmd.Context(), q)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}

			if len(page.Data) == 0 {
				fmt.Println("No captured text matches.")
				return nil
			}
			for _, rec := range page.Data {
				dim.Printf("%-8d %-16s ", rec.FrameID, truncate(rec.AppName, 16))
				fmt.Println(truncate(rec.Text, 80))
			}
			dim.Printf("\n%s records total\n", humanize.Comma(int64(page.TotalRows)))
			return nil
		},
	}

	cmd.Flags().IntVar(&q.PageIndex, "page", 0, "page index")
	cmd.Flags().IntVar(&q.PageSize, "size", ocr.DefaultPageSize, "page size")
	cmd.Flags().StringVar(&q.TextFilter, "text", "", "filter by text (case-insensitive)")
	cmd.Flags().StringVar(&q.AppFilter, "app", "", "filter by app name (case-insensitive)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw page as JSON")
	return cmd
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	}
}

func printBatch(key string, drafts []domain.Draft) {
	when := key
	if t, err := store.ParseKey(key); err == nil {
		when = fmt.Sprintf("%s (%s)", key, humanize.Time(t))
	}
	bold.Println(when)
	for _, d := range drafts {
		dim.Printf("  %s  ", shortID(d.ID))
		fmt.Println(d.Tweet)
	}
	fmt.Println()
}

func printSettings(s domain.Settings) {
	key := "(none)"
	if s.APIKey != "" {
		key = "set"
	}
	fmt.Printf("Provider: %s\n", s.Provider)
	fmt.Printf("Model:    %s\n", s.Model)
	fmt.Printf("Mood:     %s\n", s.Mood)
	fmt.Printf("API key:  %s\n", key)
}

func providerList() string {
	names := make([]string, len(domain.Providers))
	for i, p := range domain.Providers {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return humanize.Comma(int64(n)) + " " + many
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens s to at most max runes for display
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
