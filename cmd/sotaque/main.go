// Package main provides the CLI entrypoint for sotaque.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/sotaque/internal/app"
	"github.com/verte-zerg/sotaque/internal/coach"
	"github.com/verte-zerg/sotaque/internal/config"
	"github.com/verte-zerg/sotaque/internal/model"
	"github.com/verte-zerg/sotaque/internal/phonetic"
	"github.com/verte-zerg/sotaque/internal/phrasebank"
	"github.com/verte-zerg/sotaque/internal/stats"
	"github.com/verte-zerg/sotaque/internal/statsui"
	"github.com/verte-zerg/sotaque/internal/tips"
	"github.com/verte-zerg/sotaque/internal/tui"
)

const (
	defaultDrillCount = 10
	defaultWeakLimit  = 20
)

var (
	practiceUser   string
	practiceModule string
	practiceMode   string
	practiceExam   bool
	practiceCount  int

	scorePhrase     string
	scorePhraseID   string
	scoreTranscript string
	scoreAudio      string
	scoreMode       string
	scoreUser       string
	scoreJSON       bool

	weakUser  string
	weakLimit int

	examUser   string
	examModule string

	statsUser  string
	statsPlain bool
	statsJSON  bool

	prefetchModule  string
	prefetchWorkers int

	serveAddr string

	forgetUser string
	forgetYes  bool
)

type env struct {
	cfg     config.Config
	logger  *slog.Logger
	modules []model.Module
	logFile *os.File
}

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sotaque",
		Short:         "Pronunciation coach for Brazilian learners of English",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runPracticeCmd,
	}

	rootCmd.Flags().StringVar(&practiceUser, "user", "", "learner name (progress is not saved when empty)")
	rootCmd.Flags().StringVar(&practiceModule, "module", "casual", "phrase module")
	rootCmd.Flags().StringVar(&practiceMode, "mode", string(model.ModeLesson), "lesson or coach")
	rootCmd.Flags().BoolVar(&practiceExam, "exam", false, "take the module exam")
	rootCmd.Flags().IntVar(&practiceCount, "count", defaultDrillCount, "phrases per coach drill")

	rootCmd.AddCommand(newScoreCmd())
	rootCmd.AddCommand(newWeakCmd())
	rootCmd.AddCommand(newExamCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newModulesCmd())
	rootCmd.AddCommand(newPrefetchCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newForgetCmd())

	return rootCmd
}

// setup loads .env files, the config file and the phrase modules. When
// quiet is set, logs go to a file so they do not garble a full-screen UI.
func setup(quiet bool) (*env, error) {
	if err := config.LoadDotEnv(config.DefaultEnvPath(), ".env"); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	e := &env{cfg: cfg}
	var w io.Writer = os.Stderr
	if quiet {
		w = io.Discard
		path := config.DefaultLogPath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				e.logFile = f
				w = f
			}
		}
	}
	e.logger = app.NewLogger(cfg.Log, w)

	dir := cfg.Practice.PhrasesDir
	if dir == "" {
		dir = config.DefaultPhrasesDir()
	}
	e.modules, err = app.LoadModules(dir)
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to load phrases: %w", err)
	}
	return e, nil
}

func (e *env) close() {
	if e.logFile != nil {
		if err := e.logFile.Close(); err != nil {
			logErrf("failed to close log file: %v\n", err)
		}
	}
}

func (e *env) openStore(ctx context.Context) (app.Store, func(), error) {
	st, err := app.OpenStore(ctx, e.cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	return st, func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}, nil
}

func runPracticeCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(true)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "user", &practiceUser, e.cfg.Practice.User)
	applyStringConfig(cmd, "module", &practiceModule, e.cfg.Practice.Module)

	mode, err := parseMode(practiceMode)
	if err != nil {
		return err
	}
	if practiceCount <= 0 {
		return fmt.Errorf("--count must be > 0")
	}
	mod, err := phrasebank.Find(e.modules, practiceModule)
	if err != nil {
		return err
	}

	ctx := context.Background()
	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	c, err := app.NewCoach(e.cfg, st, nil, e.logger)
	if err != nil {
		return err
	}

	session := tui.Session{
		Username: practiceUser,
		Module:   mod.Name,
		Mode:     mode,
	}
	if practiceUser != "" {
		if session.XP, err = st.XP(ctx, practiceUser); err != nil {
			logErrf("failed to load XP: %v\n", err)
		}
		session.Weak = c.WeakWords(ctx, practiceUser, e.cfg.Selector.WeakFetch)
	}

	switch {
	case practiceExam:
		exam, err := c.StartExam(ctx, practiceUser, mod, e.modules)
		if err != nil {
			return fmt.Errorf("failed to start exam: %w", err)
		}
		session.Mode = model.ModeExam
		session.Exam = &exam
	case mode == model.ModeCoach:
		session.Phrases = c.Drill(ctx, practiceUser, mod.Phrases, practiceCount)
	default:
		reached := 0
		if practiceUser != "" {
			progress, err := st.AllModuleProgress(ctx, practiceUser)
			if err != nil {
				logErrf("failed to load progress: %v\n", err)
			}
			reached = progress[mod.Name]
		}
		if reached >= len(mod.Phrases) {
			reached = 0
			session.Reviewing = true
		}
		session.FirstLesson = reached
		session.Phrases = mod.Phrases[reached:]
	}

	program := tea.NewProgram(tui.NewModel(c, session), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one attempt from a transcript or a WAV recording",
		Args:  cobra.NoArgs,
		RunE:  runScoreCmd,
	}
	cmd.Flags().StringVar(&scorePhrase, "phrase", "", "target English phrase")
	cmd.Flags().StringVar(&scorePhraseID, "phrase-id", "", "target phrase id from the loaded modules")
	cmd.Flags().StringVar(&scoreTranscript, "transcript", "", "what the learner said")
	cmd.Flags().StringVar(&scoreAudio, "audio", "", "WAV recording to transcribe")
	cmd.Flags().StringVar(&scoreMode, "mode", string(model.ModeCoach), "lesson, coach or exam")
	cmd.Flags().StringVar(&scoreUser, "user", "", "record the attempt for this learner")
	cmd.Flags().BoolVar(&scoreJSON, "json", false, "print the attempt as JSON")
	return cmd
}

func runScoreCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	mode, err := parseMode(scoreMode)
	if err != nil {
		return err
	}
	in := coach.AttemptInput{
		Username:   scoreUser,
		Mode:       mode,
		Transcript: scoreTranscript,
		Tips:       tips.NewTracker(),
	}
	switch {
	case scorePhraseID != "":
		p, module, ok := phrasebank.FindPhrase(e.modules, scorePhraseID)
		if !ok {
			return fmt.Errorf("phrase %q not found", scorePhraseID)
		}
		in.Phrase = p
		in.Module = module
	case scorePhrase != "":
		in.Phrase = model.Phrase{ID: "cli", English: scorePhrase}
	default:
		return fmt.Errorf("--phrase or --phrase-id is required")
	}
	if scoreAudio != "" {
		if scoreTranscript != "" {
			return fmt.Errorf("--transcript and --audio are mutually exclusive")
		}
		if in.Audio, err = os.ReadFile(scoreAudio); err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}

	ctx := context.Background()
	var st coach.Store
	if scoreUser != "" {
		s, closeStore, err := e.openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()
		st = s
	}
	c, err := app.NewCoach(e.cfg, st, nil, e.logger)
	if err != nil {
		return err
	}
	att, err := c.Submit(ctx, in)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scoreJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(att)
	}
	return printAttempt(out, att)
}

func printAttempt(w io.Writer, att coach.Attempt) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%s\n%s\n", att.Phrase.English, phonetic.Guide(att.Phrase.English))
	if att.Transcript != "" {
		fmt.Fprintf(bw, "heard: %s\n", att.Transcript)
	}
	for _, wr := range att.Result.Words {
		mark := "x"
		switch {
		case wr.Correct:
			mark = "ok"
		case wr.NearMiss:
			mark = "~"
		}
		fmt.Fprintf(bw, "  %-3s %-14s %s\n", mark, wr.Target, wr.Feedback)
	}
	fmt.Fprintf(bw, "score: %d%% (%d/%d)\n", att.Result.Percent, att.Result.Correct, att.Result.Total)
	for _, t := range att.Tips {
		fmt.Fprintf(bw, "tip: %s\n", t.Message)
	}
	if att.XPGained > 0 {
		fmt.Fprintf(bw, "+%d XP\n", att.XPGained)
	}
	return bw.Flush()
}

func newWeakCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weak",
		Short: "List a learner's weak words",
		Args:  cobra.NoArgs,
		RunE:  runWeakCmd,
	}
	cmd.Flags().StringVar(&weakUser, "user", "", "learner name")
	cmd.Flags().IntVar(&weakLimit, "limit", defaultWeakLimit, "maximum words to list")
	return cmd
}

func runWeakCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "user", &weakUser, e.cfg.Practice.User)
	if weakUser == "" {
		return fmt.Errorf("--user is required")
	}

	ctx := context.Background()
	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	weak, err := st.WeakWords(ctx, weakUser, weakLimit)
	if err != nil {
		return fmt.Errorf("failed to load weak words: %w", err)
	}
	return stats.RenderWeakTable(cmd.OutOrStdout(), weak)
}

func newExamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exam",
		Short: "Take a module exam reading one answer per line from stdin",
		Args:  cobra.NoArgs,
		RunE:  runExamCmd,
	}
	cmd.Flags().StringVar(&examUser, "user", "", "learner name")
	cmd.Flags().StringVar(&examModule, "module", "casual", "phrase module")
	return cmd
}

func runExamCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "user", &examUser, e.cfg.Practice.User)
	applyStringConfig(cmd, "module", &examModule, e.cfg.Practice.Module)

	mod, err := phrasebank.Find(e.modules, examModule)
	if err != nil {
		return err
	}
	ctx := context.Background()
	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	c, err := app.NewCoach(e.cfg, st, nil, e.logger)
	if err != nil {
		return err
	}

	session, err := c.StartExam(ctx, examUser, mod, e.modules)
	if err != nil {
		return fmt.Errorf("failed to start exam: %w", err)
	}
	return runExam(ctx, c, session, cmd.InOrStdin(), cmd.OutOrStdout())
}

func runExam(ctx context.Context, c *coach.Coach, session coach.ExamSession, in io.Reader, out io.Writer) error {
	tracker := tips.NewTracker()
	scanner := bufio.NewScanner(in)
	for !session.Done() {
		phrase, _ := session.Current()
		fmt.Fprintf(out, "[%d/%d] %s\n> ", session.Index+1, len(session.Phrases), phrase.English)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("failed to read answer: %w", err)
			}
			return fmt.Errorf("exam abandoned after %d of %d phrases", session.Index, len(session.Phrases))
		}
		next, att, err := c.AnswerExam(ctx, session, scanner.Text(), tracker)
		if err != nil {
			return err
		}
		session = next
		if err := printAttempt(out, att); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "\nexam score: %d%%\n", session.Score())
	return stats.RenderSessionSummary(out, session.Summary())
}

func newStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show a learner's progress",
		Args:  cobra.NoArgs,
		RunE:  runStatsCmd,
	}
	cmd.Flags().StringVar(&statsUser, "user", "", "learner name")
	cmd.Flags().BoolVar(&statsPlain, "plain", false, "print tables instead of the dashboard")
	cmd.Flags().BoolVar(&statsJSON, "json", false, "print the report as JSON")
	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	interactive := !statsPlain && !statsJSON && term.IsTerminal(int(os.Stdout.Fd()))
	e, err := setup(interactive)
	if err != nil {
		return err
	}
	defer e.close()
	applyStringConfig(cmd, "user", &statsUser, e.cfg.Practice.User)
	if statsUser == "" {
		return fmt.Errorf("--user is required")
	}

	ctx := context.Background()
	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if interactive {
		m := statsui.NewModel(st, statsui.Config{Username: statsUser, Modules: e.modules, WeakLimit: defaultWeakLimit})
		program := tea.NewProgram(m, tea.WithAltScreen())
		if _, err := program.Run(); err != nil {
			return fmt.Errorf("failed to run stats TUI: %w", err)
		}
		return nil
	}

	report, err := stats.BuildReport(ctx, st, statsUser, e.modules, defaultWeakLimit)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	if statsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return stats.RenderReport(cmd.OutOrStdout(), report)
}

func newModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List phrase modules",
		Args:  cobra.NoArgs,
		RunE:  runModulesCmd,
	}
}

func runModulesCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	if len(e.modules) == 0 {
		logErrf("No modules found. Add CSV files to %s\n", config.DefaultPhrasesDir())
		return fmt.Errorf("no modules found")
	}
	for _, m := range e.modules {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", m.Name, len(m.Phrases)); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newPrefetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Synthesize reference audio for a module ahead of time",
		Args:  cobra.NoArgs,
		RunE:  runPrefetchCmd,
	}
	cmd.Flags().StringVar(&prefetchModule, "module", "", "module to prefetch (default: all)")
	cmd.Flags().IntVar(&prefetchWorkers, "workers", 0, "concurrent synthesis requests")
	return cmd
}

func runPrefetchCmd(cmd *cobra.Command, _ []string) error {
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()
	if !e.cfg.TTS.Enabled {
		return fmt.Errorf("tts is disabled; set tts.enabled = true in %s", config.DefaultConfigPath())
	}
	workers := e.cfg.TTS.Workers
	if cmd.Flags().Changed("workers") {
		workers = prefetchWorkers
	}

	modules := e.modules
	if prefetchModule != "" {
		mod, err := phrasebank.Find(e.modules, prefetchModule)
		if err != nil {
			return err
		}
		modules = []model.Module{mod}
	}
	var texts []string
	for _, m := range modules {
		for _, p := range m.Phrases {
			texts = append(texts, p.English)
		}
	}

	ctx := context.Background()
	cache, closeTTS, err := app.NewTTS(ctx, e.cfg.TTS)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeTTS(); cerr != nil {
			logErrf("failed to close tts client: %v\n", cerr)
		}
	}()

	n, err := cache.Prefetch(ctx, texts, e.cfg.TTS.Lang, workers)
	if err != nil {
		return fmt.Errorf("prefetch stopped after %d phrases: %w", n, err)
	}
	logErrf("Synthesized %d of %d phrases\n", n, len(texts))
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		tmpl, err := config.Template(config.Default())
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(tmpl), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func newForgetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Delete all progress of a learner",
		Args:  cobra.NoArgs,
		RunE:  runForgetCmd,
	}
	cmd.Flags().StringVar(&forgetUser, "user", "", "learner name")
	cmd.Flags().BoolVar(&forgetYes, "yes", false, "confirm deletion")
	return cmd
}

func runForgetCmd(cmd *cobra.Command, _ []string) error {
	if forgetUser == "" {
		return fmt.Errorf("--user is required")
	}
	if !forgetYes {
		return fmt.Errorf("refusing to delete %q without --yes", forgetUser)
	}
	e, err := setup(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	st, closeStore, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := st.DeleteUser(ctx, forgetUser); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Deleted progress for %s\n", forgetUser)
	return err
}

func parseMode(s string) (model.Mode, error) {
	switch model.Mode(strings.ToLower(strings.TrimSpace(s))) {
	case model.ModeLesson:
		return model.ModeLesson, nil
	case model.ModeCoach:
		return model.ModeCoach, nil
	case model.ModeExam:
		return model.ModeExam, nil
	}
	return "", fmt.Errorf("unknown mode %q (use lesson, coach or exam)", s)
}

func applyStringConfig(cmd *cobra.Command, name string, target *string, value string) {
	if value == "" {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = value
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}
