package surface

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/browser"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// System opens documents in the host's default viewer and prints them with a
// spooler command (lp by default).
type System struct {
	printCommand []string
	printer      string
	viewTTL      time.Duration

	open     func(path string) error
	lookPath func(file string) (string, error)
	run      func(ctx context.Context, argv []string) ([]byte, error)
}

// NewSystem builds the system surface. viewTTL bounds how long the viewer may
// keep reading the temp file.
func NewSystem(cfg config.SurfaceConfig, viewTTL time.Duration) *System {
	cmd := cfg.PrintCommand
	if len(cmd) == 0 {
		cmd = []string{"lp"}
	}
	return &System{
		printCommand: cmd,
		printer:      cfg.Printer,
		viewTTL:      viewTTL,
		open:         browser.OpenFile,
		lookPath:     exec.LookPath,
		run:          runCommand,
	}
}

func (s *System) Name() string { return "system" }

// Open hands the file to the host viewer in view mode. In print mode no
// viewer is started and the print command must be on PATH.
func (s *System) Open(ctx context.Context, doc domain.DocumentRef, mode domain.Mode) (delivery.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	loaded := make(chan struct{})
	close(loaded)

	if mode == domain.ModePrint {
		if _, err := s.lookPath(s.printCommand[0]); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPresentationBlocked, err)
		}
		return &systemSession{surface: s, doc: doc, loaded: loaded, life: newLifetime(0, nil)}, nil
	}

	if err := s.open(doc.Path); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPresentationBlocked, err)
	}
	// The viewer is a separate process; once it has been handed the file there
	// is no further readiness signal.
	return &systemSession{surface: s, doc: doc, loaded: loaded, life: newLifetime(s.viewTTL, nil)}, nil
}

func (s *System) printArgs(path string) []string {
	argv := append([]string{}, s.printCommand...)
	if s.printer != "" {
		argv = append(argv, "-d", s.printer)
	}
	return append(argv, path)
}

type systemSession struct {
	surface *System
	doc     domain.DocumentRef
	loaded  chan struct{}
	life    *lifetime
}

func (ss *systemSession) Loaded() <-chan struct{} { return ss.loaded }
func (ss *systemSession) Done() <-chan struct{}   { return ss.life.done }

func (ss *systemSession) Print(ctx context.Context) error {
	argv := ss.surface.printArgs(ss.doc.Path)
	out, err := ss.surface.run(ctx, argv)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	logging.Info("Ticket sent to printer", "command", argv[0], "printer", ss.surface.printer, "output", strings.TrimSpace(string(out)))
	return nil
}

func (ss *systemSession) Close() error {
	ss.life.stop()
	return nil
}

func runCommand(ctx context.Context, argv []string) ([]byte, error) {
	return exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
}
