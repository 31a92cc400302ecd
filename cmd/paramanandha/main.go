// Command paramanandha manages sessions and documents and answers questions
// against them from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/l88labs/paramanandha/cache"
	"github.com/l88labs/paramanandha/config"
	openaiembed "github.com/l88labs/paramanandha/contrib/embedder/openai"
	anthropicllm "github.com/l88labs/paramanandha/contrib/llm/anthropic"
	openaillm "github.com/l88labs/paramanandha/contrib/llm/openai"
	coherererank "github.com/l88labs/paramanandha/contrib/rerank/cohere"
	"github.com/l88labs/paramanandha/ingest"
	"github.com/l88labs/paramanandha/llm"
	"github.com/l88labs/paramanandha/pipeline"
	"github.com/l88labs/paramanandha/pkg/logging"
	"github.com/l88labs/paramanandha/pkg/telemetry"
	"github.com/l88labs/paramanandha/storage"
	"github.com/l88labs/paramanandha/store"
)

type app struct {
	cfg      config.Config
	store    store.Store
	cache    cache.Cache
	locks    *storage.Locks
	ingestor *ingest.Ingestor
	engine   *pipeline.Engine
	shutdown func(context.Context) error
}

func (a *app) init(ctx context.Context) error {
	a.cfg = config.Default()
	if root := os.Getenv("PARAMANANDHA_STORAGE_ROOT"); root != "" {
		a.cfg.StorageRoot = root
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "paramanandha",
		Disable:     os.Getenv("PARAMANANDHA_TRACING") == "",
	})
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	if dsn := os.Getenv("PARAMANANDHA_POSTGRES_DSN"); dsn != "" {
		a.store, err = store.OpenPostgres(dsn)
	} else {
		a.store, err = store.OpenSQLite(filepath.Join(a.cfg.StorageRoot, "paramanandha.db"))
	}
	if err != nil {
		return err
	}

	if url := os.Getenv("PARAMANANDHA_REDIS_URL"); url != "" {
		a.cache, err = cache.NewRedis(url, a.cfg.CacheTTL)
		if err != nil {
			return err
		}
	} else {
		a.cache = cache.NewMemory(a.cfg.CacheTTL)
	}

	a.locks = storage.NewLocks()

	embedder := openaiembed.New(a.cfg)
	a.ingestor = ingest.New(a.cfg, embedder, a.store, a.cache, a.locks)

	var chat llm.Client
	if os.Getenv("PARAMANANDHA_LLM_PROVIDER") == "anthropic" {
		chat = anthropicllm.New(a.cfg)
	} else {
		chat = openaillm.New(a.cfg)
	}
	a.engine = pipeline.New(a.cfg, chat, embedder, coherererank.New(a.cfg), a.store, a.cache, a.locks)
	return nil
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		a.store.Close()
	}
	if a.shutdown != nil {
		a.shutdown(ctx)
	}
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "paramanandha",
		Short:         "Ask questions against your PDF documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			a.close(cmd.Context())
		},
	}

	root.AddCommand(
		sessionCmd(a),
		ingestCmd(a),
		docsCmd(a),
		selectCmd(a),
		deleteCmd(a),
		libraryCmd(a),
		webmodeCmd(a),
		askCmd(a),
	)

	if err := root.Execute(); err != nil {
		logging.Logger().Error("command failed", "error", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func sessionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage sessions",
	}

	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a new session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess := store.Session{
				ID:          uuid.NewString(),
				Name:        name,
				SessionType: store.SessionTypeGeneral,
				CreatedAt:   time.Now(),
			}
			if err := a.store.CreateSession(cmd.Context(), sess); err != nil {
				return err
			}
			fmt.Println(sess.ID)
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "untitled", "session name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := a.store.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sessions {
				fmt.Printf("%s\t%s\t%s\tweb=%v\t%s\n",
					s.ID, s.Name, s.SessionType, s.WebMode, s.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func ingestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <session-id> <file.pdf>",
		Short: "Add a PDF to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			doc, err := a.ingestor.IngestSession(cmd.Context(), args[0], filepath.Base(args[1]), data)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d pages\t%d chunks\n", doc.ID, doc.PageCount, doc.ChunkCount)
			return nil
		},
	}
}

func docsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "docs <session-id>",
		Short: "List a session's documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := a.store.ListDocuments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, d := range docs {
				mark := " "
				if d.Selected {
					mark = "*"
				}
				fmt.Printf("%s %s\t%s\t%d pages\t%d chunks\n", mark, d.ID, d.Filename, d.PageCount, d.ChunkCount)
			}
			return nil
		},
	}
}

func selectCmd(a *app) *cobra.Command {
	var off bool
	cmd := &cobra.Command{
		Use:   "select <session-id> <doc-id>",
		Short: "Select or deselect a document for retrieval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.SetSelected(cmd.Context(), args[1], !off); err != nil {
				return err
			}
			// The answer cache keys on session content scope.
			return a.cache.Invalidate(cmd.Context(), args[0])
		},
	}
	cmd.Flags().BoolVar(&off, "off", false, "deselect instead of select")
	return cmd
}

func deleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id> <doc-id>",
		Short: "Delete a document and rebuild the session index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ingestor.Delete(cmd.Context(), args[0], args[1])
		},
	}
}

func libraryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage the shared document library",
	}

	add := &cobra.Command{
		Use:   "add <file.pdf>",
		Short: "Add a PDF to the library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := a.ingestor.IngestLibrary(cmd.Context(), filepath.Base(args[0]), data)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d pages\t%d chunks\n", doc.ID, doc.PageCount, doc.ChunkCount)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List library documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := a.store.ListLibraryDocuments(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range docs {
				fmt.Printf("%s\t%s\t%d pages\t%d chunks\n", d.ID, d.Filename, d.PageCount, d.ChunkCount)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete <doc-id>",
		Short: "Delete a library document and rebuild the library index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.ingestor.DeleteLibrary(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(add, list, remove)
	return cmd
}

func webmodeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "webmode <session-id> <on|off>",
		Short: "Toggle web mode, which forces the retrieval route",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[1] {
			case "on":
				return a.store.SetWebMode(cmd.Context(), args[0], true)
			case "off":
				return a.store.SetWebMode(cmd.Context(), args[0], false)
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}
		},
	}
}

func askCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <session-id> <question>",
		Short: "Ask a question in a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := a.engine.Run(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Println(resp.Answer)
			if resp.MissingInfo != "" {
				fmt.Println("\nMissing:", resp.MissingInfo)
			}
			if len(resp.Sources) > 0 {
				fmt.Println("\nSources:")
				for _, src := range resp.Sources {
					fmt.Printf("  [%s] %s p.%d (score %.2f)\n", src.Origin, src.Filename, src.Page, src.Score)
				}
			}
			fmt.Printf("\n[route=%s context=%s verdict=%s confident=%v cached=%v rewrites=%d]\n",
				resp.Route, resp.ContextVerdict, resp.Verdict, resp.Confident, resp.Cached, resp.RewriteCount)
			return nil
		},
	}
}
