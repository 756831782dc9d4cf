package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"exam-session-engine/internal/answer"
	"exam-session-engine/internal/config"
	"exam-session-engine/internal/countdown"
	"exam-session-engine/internal/domain"
	"exam-session-engine/internal/focus"
	"exam-session-engine/internal/logger"
	"exam-session-engine/internal/remote"
	"exam-session-engine/internal/session"
	"exam-session-engine/internal/transport/wsclient"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type takeOptions struct {
	examID        string
	participantID string
	mode          string
	attemptID     string
	backendURL    string
}

// NewTakeCmd runs an exam attempt in the terminal against a backend.
func NewTakeCmd(configPath, port *string) *cobra.Command {
	opts := takeOptions{}
	cmd := &cobra.Command{
		Use:   "take",
		Short: "Take an exam in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// Logs go to stderr so they do not interleave with the exam screen.
			log := logger.New(os.Stderr, cfg.Log.Level, "pretty")
			if opts.backendURL == "" {
				opts.backendURL = cfg.Client.BackendURL
			}
			if opts.backendURL == "" {
				opts.backendURL = "ws://localhost:" + *port + "/ws"
			}

			fd := int(os.Stdin.Fd())
			if !term.IsTerminal(fd) {
				return runTake(cmd.Context(), cfg, log, opts, os.Stdin, os.Stdout, false)
			}
			state, err := term.MakeRaw(fd)
			if err != nil {
				return fmt.Errorf("raw terminal: %w", err)
			}
			defer term.Restore(fd, state)
			return runTake(cmd.Context(), cfg, log, opts, os.Stdin, os.Stdout, true)
		},
	}
	cmd.Flags().StringVar(&opts.examID, "exam", "general-1", "exam id")
	cmd.Flags().StringVar(&opts.participantID, "participant", "", "participant id")
	cmd.Flags().StringVar(&opts.mode, "mode", string(domain.ModePractice), "exam mode: practice, public or supervised")
	cmd.Flags().StringVar(&opts.attemptID, "attempt", "", "resume an existing attempt instead of starting one")
	cmd.Flags().StringVar(&opts.backendURL, "backend", "", "websocket url of the exam backend")
	_ = cmd.MarkFlagRequired("participant")
	return cmd
}

// screen serialises writes to the terminal. In raw mode newlines need an
// explicit carriage return.
type screen struct {
	mu  sync.Mutex
	out io.Writer
	raw bool
}

func (s *screen) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Write(p)
}

func (s *screen) printf(format string, args ...any) {
	text := fmt.Sprintf(format, args...)
	if s.raw {
		text = strings.ReplaceAll(text, "\n", "\r\n")
	}
	_, _ = io.WriteString(s, text)
}

func runTake(ctx context.Context, cfg config.Config, log zerolog.Logger, opts takeOptions, in io.Reader, out io.Writer, raw bool) error {
	scr := &screen{out: out, raw: raw}
	mode := domain.Mode(opts.mode)
	if !mode.Valid() {
		return fmt.Errorf("mode %q: %w", opts.mode, domain.ErrInvalidMode)
	}

	client, err := wsclient.Dial(ctx, opts.backendURL, log)
	if err != nil {
		return err
	}
	defer client.Close()

	attemptID := opts.attemptID
	if attemptID == "" {
		attemptID, err = client.StartAttempt(ctx, opts.examID, opts.participantID, mode)
		if err != nil {
			return err
		}
	}
	payload, err := client.FetchExam(ctx, opts.examID)
	if err != nil {
		return err
	}

	remoteOpts := remote.DefaultOptions()
	if cfg.Client.AnswerRetries > 0 {
		remoteOpts.AnswerRetries = uint64(cfg.Client.AnswerRetries)
	}
	notifier := remote.NotifierFunc(func(n remote.Notice) {
		scr.printf("\n[%s] %s\n", n.Level, n.Message)
	})
	adapter := remote.NewAdapter(client, notifier, remoteOpts, log)
	defer adapter.Wait()

	trigger := focus.NewTrigger()
	sessionOpts := []session.Option{session.WithVisibility(trigger), session.WithLogger(log)}
	var timer *countdown.Timer
	if payload.Exam.DurationMinutes > 0 {
		timer = examClock(ctx, client, log, payload.Exam, opts.attemptID)
		defer timer.Stop()
		sessionOpts = append(sessionOpts, session.WithCountdown(timer))
	}

	c, err := session.New(session.Config{
		AttemptID:     attemptID,
		ParticipantID: opts.participantID,
		Mode:          mode,
		Exam:          payload.Exam,
		Questions:     payload.Questions,
	}, adapter, sessionOpts...)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return err
	}

	feed, cancelFeed := c.Subscribe()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for stats := range feed {
			scr.printf("%s\n", renderStats(stats))
		}
	}()
	defer func() {
		cancelFeed()
		c.Close()
		<-rendered
	}()

	if raw {
		_, _ = io.WriteString(scr, focus.EnableReporting)
		defer io.WriteString(scr, focus.DisableReporting)
	}

	var clock sync.Once
	startClock := func() {
		if timer != nil {
			clock.Do(timer.Start)
		}
	}

	scr.printf("%s (%s mode, attempt %s)\n", payload.Exam.Title, mode, attemptID)
	gated := c.Status() == domain.StatusNotStarted && c.Capabilities().RequiresIdentityGate
	switch {
	case c.Status().Terminal():
	case gated:
		scr.printf("Enter the code sent to you to begin.\n")
	default:
		startClock()
		printQuestions(scr, c)
	}

	lines := make(chan string)
	quit := make(chan struct{})
	defer close(quit)
	scanned := make(chan error, 1)
	go func() {
		var echo io.Writer
		if raw {
			echo = scr
		}
		scanner := focus.Scanner{
			Echo:        echo,
			OnFocusLost: trigger.Lost,
			OnLine: func(line string) {
				select {
				case lines <- line:
				case <-quit:
				}
			},
		}
		scanned <- scanner.Scan(in)
	}()

	for {
		select {
		case <-c.Done():
			printOutcome(scr, c)
			return nil
		case line := <-lines:
			handleLine(ctx, scr, c, timer, strings.TrimSpace(line), startClock)
		case err := <-scanned:
			if _, ok := c.Outcome(); ok {
				printOutcome(scr, c)
				return nil
			}
			if errors.Is(err, focus.ErrInterrupted) || err == nil {
				scr.printf("Leaving. The attempt stays open until it is submitted or times out.\n")
				return nil
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// examClock gives a resumed attempt only the time it has left since the
// backend started it.
func examClock(ctx context.Context, client *wsclient.Client, log zerolog.Logger, exam domain.Exam, resumeID string) *countdown.Timer {
	if resumeID == "" {
		return countdown.FromMinutes(exam.DurationMinutes)
	}
	snap, err := client.FetchAttempt(ctx, resumeID)
	if err != nil {
		log.Warn().Err(err).Str("attempt_id", resumeID).Msg("attempt start unknown, using the full duration")
		return countdown.FromMinutes(exam.DurationMinutes)
	}
	return countdown.Resumed(exam.Duration(), snap.StartedAt, time.Now())
}

func handleLine(ctx context.Context, scr *screen, c *session.Controller, timer *countdown.Timer, line string, startClock func()) {
	if line == "" {
		return
	}
	if c.Status() == domain.StatusNotStarted && c.Capabilities().RequiresIdentityGate {
		err := c.VerifyIdentity(ctx, line)
		switch {
		case errors.Is(err, domain.ErrIdentityRejected):
			scr.printf("Code rejected, try again.\n")
		case err != nil:
			scr.printf("Verification failed: %v\n", err)
		default:
			scr.printf("Identity verified.\n")
			startClock()
			printQuestions(scr, c)
		}
		return
	}

	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "submit":
		err := c.SubmitExam(ctx, domain.ReasonManual)
		if err != nil && !errors.Is(err, domain.ErrNotInProgress) && !errors.Is(err, domain.ErrSubmissionInFlight) {
			scr.printf("Submit failed: %v\n", err)
		}
	case "list":
		printQuestions(scr, c)
	case "stats":
		scr.printf("%s\n", renderStats(c.Stats()))
	case "time":
		if timer == nil {
			scr.printf("This exam is not timed.\n")
			return
		}
		scr.printf("Time left: %s\n", timer.Remaining().Round(time.Second))
	case "help":
		scr.printf("Commands: <number> <option> to answer (e.g. \"2 C\"), list, stats, time, submit.\n")
	default:
		answerLine(scr, c, fields)
	}
}

func answerLine(scr *screen, c *session.Controller, fields []string) {
	questions := c.Questions()
	n, err := strconv.Atoi(fields[0])
	if err != nil || len(fields) != 2 {
		scr.printf("Unknown command, type help.\n")
		return
	}
	if n < 1 || n > len(questions) {
		scr.printf("There is no question %d.\n", n)
		return
	}
	q := questions[n-1]
	idx, ok := answer.Index(fields[1])
	if !ok {
		scr.printf("%q is not an option label.\n", fields[1])
		return
	}
	_, applied, err := c.Answer(q.ID, idx)
	switch {
	case errors.Is(err, domain.ErrOptionNotFound):
		scr.printf("Question %d has no option %s.\n", n, answer.Normalize(fields[1]))
	case err != nil:
		scr.printf("Answer failed: %v\n", err)
	case !applied:
		scr.printf("Question %d is already answered.\n", n)
	}
}

func printQuestions(scr *screen, c *session.Controller) {
	for i, q := range c.Questions() {
		mark := ""
		if label, ok := c.Selected(q.ID); ok {
			mark = " [" + string(label) + "]"
		}
		scr.printf("\n%d. %s%s\n", i+1, q.Prompt, mark)
		if q.Context != "" {
			scr.printf("   %s\n", q.Context)
		}
		for _, st := range q.Statements {
			scr.printf("   %s\n", st)
		}
		for j, opt := range q.Options {
			scr.printf("   %s) %s\n", answer.Letter(j), opt)
		}
	}
	scr.printf("\n")
}

func printOutcome(scr *screen, c *session.Controller) {
	outcome, _ := c.Outcome()
	switch outcome.Reason {
	case domain.ReasonTimeUp:
		scr.printf("Time is up. Your attempt was submitted automatically.\n")
	case domain.ReasonTabSwitch:
		scr.printf("The attempt ended because the exam lost focus.\n")
	default:
		scr.printf("Attempt %s.\n", strings.ReplaceAll(string(outcome.Status), "_", " "))
	}
	scr.printf("%s\n", renderStats(outcome.Stats))
}

func renderStats(s domain.Stats) string {
	return fmt.Sprintf("answered %d/%d  correct %d  wrong %d  skipped %d  streak %d (best %d)  score %s",
		s.Answered, s.Total, s.Correct, s.Wrong, s.Skipped, s.Streak, s.BestStreak,
		strconv.FormatFloat(s.Score, 'f', -1, 64))
}
