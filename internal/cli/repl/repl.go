package repl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"codejudge/internal/cli/command"
	httpclient "codejudge/internal/cli/http"
	"codejudge/internal/cli/state"
	"codejudge/internal/judge/model"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "judge> "

// Prompter asks the user for one value.
type Prompter func(label string) (string, error)

// Options configures a Session.
type Options struct {
	StatePath    string
	HistoryPath  string
	PrettyJSON   bool
	WatchTimeout time.Duration
}

// Session holds REPL state.
type Session struct {
	client     *httpclient.Client
	commands   map[string]command.Command
	tokenState *state.TokenState
	opts       Options
	out        io.Writer
	prompter   Prompter
}

func New(client *httpclient.Client, commands map[string]command.Command, tokenState *state.TokenState, opts Options, out io.Writer) *Session {
	return &Session{
		client:     client,
		commands:   commands,
		tokenState: tokenState,
		opts:       opts,
		out:        out,
	}
}

// Run reads lines until quit or end of input.
func (s *Session) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     s.opts.HistoryPath,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.out = rl.Stdout()
	s.prompter = func(label string) (string, error) {
		rl.SetPrompt(label + ": ")
		defer rl.SetPrompt(prompt)
		line, err := rl.Readline()
		return strings.TrimSpace(line), err
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
}

// Execute handles one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch line {
	case "exit", "quit":
		s.printLine("bye")
		return true
	case "help":
		s.printHelp()
		return false
	}
	if rest, ok := strings.CutPrefix(line, "set "); ok {
		s.handleSet(strings.TrimSpace(rest))
		return false
	}
	if rest, ok := strings.CutPrefix(line, "show "); ok {
		s.handleShow(strings.TrimSpace(rest))
		return false
	}
	if err := s.handleCommand(ctx, line); err != nil {
		s.printLine("error: %v", err)
	}
	return false
}

func (s *Session) handleSet(args string) {
	parts := strings.Fields(args)
	if len(parts) == 0 {
		s.printLine("usage: set base|token|timeout")
		return
	}
	switch parts[0] {
	case "base":
		if len(parts) < 2 {
			s.printLine("usage: set base http://127.0.0.1:8085")
			return
		}
		s.client.SetBaseURL(parts[1])
		s.printLine("base set to %s", parts[1])
	case "timeout":
		if len(parts) < 2 {
			s.printLine("usage: set timeout 10s")
			return
		}
		dur, err := time.ParseDuration(parts[1])
		if err != nil {
			s.printLine("invalid duration: %v", err)
			return
		}
		s.client.SetTimeout(dur)
		s.printLine("timeout set to %s", dur)
	case "token":
		if len(parts) < 2 {
			s.printLine("usage: set token <access_token>")
			return
		}
		s.tokenState.AccessToken = parts[1]
		if err := state.Save(s.opts.StatePath, *s.tokenState); err != nil {
			s.printLine("save token failed: %v", err)
			return
		}
		s.printLine("token updated")
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) handleShow(args string) {
	switch args {
	case "token":
		if s.tokenState.AccessToken == "" {
			s.printLine("token: <empty>")
			return
		}
		token := s.tokenState.AccessToken
		if len(token) > 12 {
			token = token[:6] + "..." + token[len(token)-4:]
		}
		s.printLine("token: %s", token)
	case "last":
		if s.tokenState.LastSubmission == "" {
			s.printLine("last: <none>")
			return
		}
		s.printLine("last: %s", s.tokenState.LastSubmission)
	case "config":
		s.printLine("base: %s", s.client.BaseURL())
		s.printLine("tokenStatePath: %s", s.opts.StatePath)
	default:
		s.printLine("usage: show token|last|config")
	}
}

func (s *Session) handleCommand(ctx context.Context, line string) error {
	tokens, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	cmd, ok := s.commands[tokens[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s (try help)", tokens[0])
	}
	params := command.Params{}
	for _, token := range tokens[1:] {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			return fmt.Errorf("invalid param: %s", token)
		}
		params.Set(key, value)
	}
	if cmd.RequiresAuth && s.tokenState.AccessToken == "" {
		s.printLine("warning: no token set, the server will reject %s", cmd.Name)
	}
	if last := s.tokenState.LastSubmission; last != "" && hasField(cmd, "id") && params.Get("id") == "" {
		params.Set("id", last)
	}
	if err := s.promptMissing(cmd, params); err != nil {
		return err
	}
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		return err
	}
	if req.Stream {
		return s.watch(ctx, req.Path)
	}
	resp, err := s.client.Do(ctx, req.Method, req.Path, req.Headers, req.Body)
	if err != nil {
		return err
	}
	s.renderResponse(resp)
	if cmd.Name == "submit" {
		s.rememberSubmission(resp)
	}
	return nil
}

func hasField(cmd command.Command, name string) bool {
	for _, field := range cmd.Fields {
		if field.Name == name {
			return true
		}
	}
	return false
}

// rememberSubmission stores the id from a successful submit so later
// status and watch commands can omit it.
func (s *Session) rememberSubmission(resp httpclient.ResponseInfo) {
	if resp.StatusCode/100 != 2 {
		return
	}
	var env struct {
		Data struct {
			SubmissionID string `json:"submissionId"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.Data.SubmissionID == "" {
		return
	}
	s.tokenState.LastSubmission = env.Data.SubmissionID
	if err := state.Save(s.opts.StatePath, *s.tokenState); err != nil {
		s.printLine("save state failed: %v", err)
	}
}

func (s *Session) promptMissing(cmd command.Command, params command.Params) error {
	if s.prompter == nil {
		return nil
	}
	params.Canonicalize(cmd.Fields)
	for _, field := range cmd.Fields {
		if !field.Required || params.Satisfied(field) {
			continue
		}
		label := field.Prompt
		if field.Type == command.FieldSource {
			field.Name = "file"
			label = "source file path"
		}
		value, err := s.prompter(label)
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		params.Set(field.Name, value)
	}
	return nil
}

func (s *Session) watch(ctx context.Context, path string) error {
	if s.opts.WatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.WatchTimeout)
		defer cancel()
	}
	return s.client.Watch(ctx, path, func(frame []byte) error {
		var status model.JudgeStatus
		if err := json.Unmarshal(frame, &status); err != nil {
			s.printLine("%s", string(frame))
			return nil
		}
		s.printLine("%s", FormatStatus(status))
		return nil
	})
}

// FormatStatus renders one status update as a single line.
func FormatStatus(st model.JudgeStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %d/%d passed", st.Status, st.TestCasePassed, st.TotalTestCases)
	if st.Status.IsTerminal() {
		fmt.Fprintf(&b, "  %dms  %dKB", st.RunTimeMs, st.MemoryKB)
	}
	if st.Summary != nil && st.Summary.HiddenTotal > 0 {
		fmt.Fprintf(&b, "  (hidden %d/%d)", st.Summary.HiddenPassed, st.Summary.HiddenTotal)
	}
	if st.ErrorMessage != "" {
		msg := st.ErrorMessage
		if i := strings.IndexByte(msg, '\n'); i >= 0 {
			msg = msg[:i] + " ..."
		}
		fmt.Fprintf(&b, "  %s", msg)
	}
	return b.String()
}

func (s *Session) renderResponse(resp httpclient.ResponseInfo) {
	s.printLine("HTTP %d (%s)", resp.StatusCode, resp.Duration.Round(time.Millisecond))
	if len(resp.Body) == 0 {
		return
	}
	if s.opts.PrettyJSON {
		var raw interface{}
		if err := json.Unmarshal(resp.Body, &raw); err == nil {
			formatted, _ := json.MarshalIndent(raw, "", "  ")
			s.printLine("%s", string(formatted))
			return
		}
	}
	s.printLine("%s", string(resp.Body))
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(s.commands)+5)
	for _, name := range command.Names(s.commands) {
		items = append(items, readline.PcItem(name))
	}
	items = append(items,
		readline.PcItem("set", readline.PcItem("base"), readline.PcItem("token"), readline.PcItem("timeout")),
		readline.PcItem("show", readline.PcItem("token"), readline.PcItem("last"), readline.PcItem("config")),
		readline.PcItem("help"),
		readline.PcItem("quit"),
	)
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, name := range command.Names(s.commands) {
		s.printLine("  %s", s.commands[name].Usage)
	}
	s.printLine("system: help | quit | set base|timeout|token | show token|last|config")
	s.printLine("id defaults to the last submission")
	s.printLine("missing required values are prompted for")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}
