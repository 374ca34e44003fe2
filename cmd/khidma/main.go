package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"khidma/internal/agent"
	"khidma/internal/app"
	"khidma/internal/config"
	"khidma/internal/db"
	"khidma/internal/domain"
	"khidma/internal/engine"
	"khidma/internal/migrate"
	"khidma/internal/repo"
	"khidma/internal/server"
	"khidma/internal/speech"
	"khidma/internal/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "khidma",
	Short: "Khidma CLI",
	Long: `Khidma is a government-services transaction assistant.
It executes services (renewals, visas, fines, appointments) directly or
through a conversational agent, and keeps a durable ledger of every attempt.
Workspace: the .khidma directory next to where you run it, holding the
database; configuration lives in khidma.yml.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KHIDMA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(knowledgeCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default khidma.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			secret := uuid.New().String()
			if err := os.WriteFile(path, []byte(config.GenerateDefault(secret)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
	return cmd
}

func serviceCmd() *cobra.Command {
	svc := &cobra.Command{Use: "service", Short: "Browse and run services"}
	svc.AddCommand(serviceListCmd())
	svc.AddCommand(serviceRunCmd())
	return svc
}

func serviceListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, _ string) error {
				defs := e.Registry.List()
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Service", "Category", "Fee"})
				for _, d := range defs {
					tw.AppendRow(table.Row{d.Name, d.DisplayName, d.Category, d.FeeLabel})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func serviceRunCmd() *cobra.Command {
	var argPairs []string
	var paymentMethod string
	cmd := &cobra.Command{
		Use:   "run <service>",
		Short: "Run a service through the step workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, userID string) error {
				def, ok := e.Registry.Get(args[0])
				if !ok {
					return fmt.Errorf("unknown service %s", args[0])
				}
				inst := workflow.New(def)
				for _, pair := range argPairs {
					k, v, found := strings.Cut(pair, "=")
					if !found {
						return fmt.Errorf("invalid --arg %q, expected key=value", pair)
					}
					if err := inst.SetValue(k, v); err != nil {
						return err
					}
				}
				if err := inst.SubmitInfo(); err != nil {
					var missing workflow.MissingFieldsError
					if errors.As(err, &missing) {
						return fmt.Errorf("missing required fields: %s", strings.Join(missing.Labels, ", "))
					}
					return err
				}
				if inst.Step() == workflow.StepPayment {
					if paymentMethod == "" {
						return fmt.Errorf("service %s requires --payment-method (one of %s)", def.Name, strings.Join(workflow.PaymentMethods, ", "))
					}
					if err := inst.SelectPayment(paymentMethod); err != nil {
						return err
					}
					if err := inst.ConfirmPayment(); err != nil {
						return err
					}
				}
				result, err := inst.Execute(ctx, e.Runner(userID))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"result": result, "request_id": inst.RequestID()})
				}
				fmt.Printf("[%s] %s\n", result.Status, result.Message)
				if result.Fee > 0 {
					fmt.Printf("fee: %.0f SAR\n", result.Fee)
				}
				if inst.RequestID() != "" {
					fmt.Println("request:", inst.RequestID())
				}
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "field value as key=value (repeatable)")
	cmd.Flags().StringVar(&paymentMethod, "payment-method", "", "payment method for fee-gated services")
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Inspect the service-request ledger"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	return req
}

func requestListCmd() *cobra.Command {
	var status, category string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List service requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, userID string) error {
				items, err := e.Repo.ListServiceRequests(ctx, repo.RequestFilters{
					UserID:          userID,
					Status:          status,
					ServiceCategory: category,
					Limit:           limit,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Service", "Category", "Status", "Created"})
				for _, sr := range items {
					tw.AppendRow(table.Row{sr.ID, sr.ServiceType, sr.ServiceCategory, sr.Status, sr.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&category, "category", "", "category filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a service request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				sr, err := r.GetServiceRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(sr)
			})
		},
	}
	return cmd
}

func askCmd() *cobra.Command {
	var conversationID, voiceFile string
	cmd := &cobra.Command{
		Use:   "ask <message>",
		Short: "Send one message to the conversational agent",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine, userID string) error {
				if e.Orchestrator == nil {
					return fmt.Errorf("model not configured; set model.base_url in %s", config.Path(viper.GetString("workspace")))
				}
				content := strings.Join(args, " ")
				kind := "text"
				if voiceFile != "" {
					res, err := captureVoice(ctx, e.Config, voiceFile)
					if err != nil {
						return err
					}
					if res.Notice != "" {
						fmt.Println(res.Notice)
					}
					if res.Transcribed {
						content = res.Transcript
						kind = "voice"
					}
				}
				if strings.TrimSpace(content) == "" {
					return fmt.Errorf("message required")
				}
				out, err := e.Orchestrator.Turn(ctx, agent.TurnInput{
					UserID:         userID,
					ConversationID: conversationID,
					Content:        content,
					Kind:           kind,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Println(out.AssistantMessage.Content)
				for _, call := range out.AssistantMessage.ToolCalls {
					fmt.Printf("  tool %s: [%s] %s\n", call.Name, call.Result.Status, call.Result.Message)
				}
				fmt.Println("conversation:", out.Conversation.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation")
	cmd.Flags().StringVar(&voiceFile, "voice", "", "16-bit LE PCM audio file to transcribe into the message")
	return cmd
}

// fileSource feeds prerecorded PCM audio into the speech pipeline in place of
// a microphone.
type fileSource struct {
	path string
}

func (f fileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

func captureVoice(ctx context.Context, cfg *config.Config, path string) (speech.Result, error) {
	src := fileSource{path: path}
	var providers []speech.Provider
	if cfg != nil && cfg.Speech.RecognizerURL != "" {
		providers = append(providers, speech.NewLiveRecognizer(cfg.Speech.RecognizerURL, cfg.Speech.Language, src))
	}
	providers = append(providers, speech.NewManualCapture(src))
	pipe := speech.New(providers...)
	res, err := pipe.Start(ctx)
	if errors.Is(err, speech.ErrUnavailable) {
		return res, nil
	}
	return res, err
}

func knowledgeCmd() *cobra.Command {
	kn := &cobra.Command{Use: "knowledge", Short: "Knowledge base"}
	var limit int
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Search knowledge articles",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.SearchArticles(ctx, strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Category", "Content"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Title, a.Category, a.Content})
				}
				tw.Render()
				return nil
			})
		},
	}
	search.Flags().IntVar(&limit, "limit", 5, "max results")
	kn.AddCommand(search)
	return kn
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed demo civic records for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := app.ResolveUser(ctx, r, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				if err := app.SeedDemo(ctx, r, u.ID); err != nil {
					return err
				}
				fmt.Println("seeded records for", u.ID)
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{Use: "apikey", Short: "Manage API keys"}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := app.ResolveUser(ctx, r, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				secret := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					UserID:  u.ID,
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The clear-text key is shown once and never stored.
				fmt.Println("id: ", key.ID)
				fmt.Println("key:", secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	ak.AddCommand(create)

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	ak.AddCommand(revoke)
	return ak
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			logger := log.New(os.Stderr, "khidma ", log.LstdFlags)
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if v, err := migrate.Version(conn); err == nil {
				logger.Printf("database %s at schema version %d", db.Path(workspace), v)
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg, logger)
			if _, err := app.ResolveUser(cmd.Context(), e.Repo, viper.GetString("user-id")); err != nil {
				return err
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Khidma API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine, string) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger := log.New(os.Stderr, "khidma ", log.LstdFlags)
	e := engine.New(conn, cfg, logger)
	u, err := app.ResolveUser(ctx, e.Repo, viper.GetString("user-id"))
	if err != nil {
		return err
	}
	return fn(ctx, e, u.ID)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
