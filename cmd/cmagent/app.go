package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	cmagent "github.com/smnsjas/go-cmagent"
	"github.com/smnsjas/go-cmagent/config"
	"github.com/smnsjas/go-cmagent/logging"
	"github.com/smnsjas/go-cmagent/proc"
	"github.com/smnsjas/go-cmagent/pwsh"
	"github.com/smnsjas/go-cmagent/session"
	"github.com/smnsjas/go-cmagent/target"
)

// newRunner starts the pwsh and ssh processes. Tests replace it.
var newRunner = func() proc.Runner { return proc.ExecRunner{} }

// app is the state shared by every command of one invocation.
type app struct {
	stdout, stderr io.Writer

	cfg      *config.Config
	logger   *slog.Logger
	client   *cmagent.Client
	registry *session.Registry
	targets  []target.Target
	json     bool
}

func (a *app) setup(cmd *cobra.Command, opts rootOptions) error {
	cfg, err := config.Load(opts.configPath, cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, _ := logging.ParseLevel(cfg.Log.Level)
	format, _ := logging.ParseFormat(cfg.Log.Format)
	a.logger = logging.New(level, format, a.stderr)

	runner := newRunner()
	backend, err := pwsh.New(runner,
		pwsh.WithExecutable(cfg.Shell.Executable),
		pwsh.WithRemoteExecutable(cfg.Shell.RemoteExecutable),
		pwsh.WithSSH(cfg.Shell.SSH),
		pwsh.WithDepth(cfg.Shell.Depth),
		pwsh.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	a.registry = session.NewRegistry()
	a.openSessions(cmd.Context(), backend, runner)

	pref, _ := cfg.Preference()
	a.client = cmagent.New(backend, backend.Remote(), backend.Local(),
		cmagent.WithProbe(a.registry),
		cmagent.WithPreference(pref),
		cmagent.WithLogger(a.logger),
	)

	computers := cfg.Computers
	if len(computers) == 0 {
		computers = []string{"localhost"}
	}
	a.targets = target.Hostnames(computers...)
	a.json = useJSON(opts, cfg.Output, a.stdout)
	return nil
}

// openSessions opens every configured session. A session that fails to
// open is left out; its computer then resolves like any other hostname.
func (a *app) openSessions(ctx context.Context, backend *pwsh.Backend, runner proc.Runner) {
	for _, sc := range a.cfg.Sessions {
		switch sc.NormalizedKind() {
		case config.KindStructured:
			c, err := session.NewCim(sc.Computer, sc.Protocol, backend.VerifyCim, session.WithLogger(a.logger))
			if err == nil {
				err = c.Open(ctx)
			}
			if err != nil {
				a.logger.Warn("session not opened", "computer", sc.Computer, "kind", sc.Kind, "err", err)
				continue
			}
			a.registry.AddCim(c)
		case config.KindShell:
			s := session.NewShell(session.ShellConfig{
				Computer:     sc.Computer,
				Destination:  sc.Destination,
				Port:         sc.Port,
				IdentityFile: sc.IdentityFile,
				SSH:          a.cfg.Shell.SSH,
				ControlDir:   a.cfg.Shell.ControlDir,
				BatchMode:    a.cfg.Shell.BatchMode,
			}, runner, session.WithLogger(a.logger))
			if err := s.Open(ctx); err != nil {
				a.logger.Warn("session not opened", "computer", sc.Computer, "kind", sc.Kind, "err", err)
				continue
			}
			a.registry.AddShell(s)
		}
	}
}

func (a *app) close(ctx context.Context) {
	if a.registry == nil {
		return
	}
	if err := a.registry.CloseAll(ctx); err != nil {
		a.logger.Warn("closing sessions", "err", err)
	}
}

func useJSON(opts rootOptions, output string, w io.Writer) bool {
	switch {
	case opts.json:
		return true
	case opts.text:
		return false
	}
	switch strings.ToLower(output) {
	case config.OutputJSON:
		return true
	case config.OutputText:
		return false
	}
	return !isTerminal(w)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
