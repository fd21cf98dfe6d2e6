package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"studybuddy-rag/internal/config"
	"studybuddy-rag/internal/helper"
	"studybuddy-rag/internal/models"
	"studybuddy-rag/internal/server"
	"studybuddy-rag/internal/vectorstore"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config

	userID       string
	uploadFile   string
	question     string
	quizTopic    string
	numQuestions int
	backupPath   string
)

var rootCmd = &cobra.Command{
	Use:           "studybuddy",
	Short:         "Study notes question answering and quiz generation",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Index a local document",
	RunE:  runUpload,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question about uploaded notes",
	RunE:  runAsk,
}

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Generate a multiple choice quiz from uploaded notes",
	RunE:  runQuiz,
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write an encrypted export of every notes collection (chromem only)",
	RunE:  runBackup,
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Load collections from an encrypted export (chromem only)",
	RunE:  runRestore,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")

	for _, c := range []*cobra.Command{uploadCmd, askCmd, quizCmd} {
		c.Flags().StringVar(&userID, "user", models.DefaultUserID, "user id owning the notes")
	}

	uploadCmd.Flags().StringVar(&uploadFile, "file", "", "path to the document")
	_ = uploadCmd.MarkFlagRequired("file")

	askCmd.Flags().StringVar(&question, "question", "", "question to answer")
	_ = askCmd.MarkFlagRequired("question")

	quizCmd.Flags().StringVar(&quizTopic, "topic", "", "focus the quiz on notes related to this topic")
	quizCmd.Flags().IntVarP(&numQuestions, "num", "n", models.DefaultNumQuestions, "number of questions")

	backupCmd.Flags().StringVar(&backupPath, "out", "", "export file path")
	_ = backupCmd.MarkFlagRequired("out")
	restoreCmd.Flags().StringVar(&backupPath, "in", "", "export file path")
	_ = restoreCmd.MarkFlagRequired("in")

	rootCmd.AddCommand(serveCmd, uploadCmd, askCmd, quizCmd, backupCmd, restoreCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// loadConfig reads path. A missing file at the default location is not an
// error; built-in defaults are used instead.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.NewServer(a.service, a.registry, &cfg.Server)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	data, err := os.ReadFile(uploadFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", uploadFile, err)
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Upload(ctx, userID, filepath.Base(uploadFile), data)
	if err != nil {
		return err
	}
	helper.PrettyPrint(cmd.OutOrStdout(), res)
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.service.Ask(ctx, userID, question)
	if err != nil {
		return err
	}
	helper.PrettyPrint(cmd.OutOrStdout(), answer)
	return nil
}

func runQuiz(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	questions, err := a.service.GenerateQuiz(ctx, userID, quizTopic, numQuestions)
	if err != nil {
		return err
	}
	helper.PrettyPrint(cmd.OutOrStdout(), questions)
	return nil
}

func chromemStore(a *app) (*vectorstore.ChromemStore, error) {
	store, ok := a.store.(*vectorstore.ChromemStore)
	if !ok {
		return nil, fmt.Errorf("backups need the %s vector store, configured: %s", config.BackendChromem, cfg.VectorStore.Backend)
	}
	return store, nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := chromemStore(a)
	if err != nil {
		return err
	}
	names, err := a.index.Collections(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return fmt.Errorf("nothing to back up, no notes have been uploaded")
	}
	if err := store.Export(ctx, backupPath, names...); err != nil {
		return err
	}
	log.Info().Str("path", backupPath).Int("collections", len(names)).Msg("backup written")
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := chromemStore(a)
	if err != nil {
		return err
	}
	if err := store.Import(ctx, backupPath); err != nil {
		return err
	}
	log.Info().Str("path", backupPath).Strs("collections", store.Collections()).Msg("backup restored")
	return nil
}
