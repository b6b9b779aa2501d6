// Package delivery turns a rendered ticket into a print, view or download action.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/clock"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// Generator renders a ticket request into a document.
type Generator interface {
	Generate(ctx context.Context, req domain.TicketRequest, token string) (domain.RenderedDocument, error)
}

// Surface is a host mechanism able to present a document to a user.
// mode is print or view; a surface may skip showing the document when printing.
// Open returns an error wrapping domain.ErrPresentationBlocked when the host refuses.
type Surface interface {
	Name() string
	Open(ctx context.Context, doc domain.DocumentRef, mode domain.Mode) (Session, error)
}

// Session is one open presentation of a document.
type Session interface {
	// Loaded is closed once the content has fully loaded.
	Loaded() <-chan struct{}
	// Done is closed when the presentation ends for any reason.
	Done() <-chan struct{}
	Print(ctx context.Context) error
	Close() error
}

// Request is one delivery invocation.
type Request struct {
	Items        []domain.OrderItem
	Mode         domain.Mode
	OrderNumber  *string
	CustomerName *string
	AuthToken    string
	// Wait makes a view Deliver block until the presentation ends or ctx is
	// done. Processes that exit right after Deliver need it so the local copy
	// is released.
	Wait bool
}

// Options tune a Client.
type Options struct {
	DownloadDir string
	TempDir     string
	PrintGrace  time.Duration
	Clock       clock.Clock
}

// OptionsFromConfig maps the delivery section of the config.
func OptionsFromConfig(cfg config.DeliveryConfig) Options {
	return Options{
		DownloadDir: cfg.DownloadDir,
		TempDir:     cfg.TempDir,
		PrintGrace:  cfg.PrintGrace,
	}
}

// Client is stateless between calls; every Deliver is independent.
type Client struct {
	gen     Generator
	surface Surface
	opts    Options
}

// New returns a Client. A nil surface behaves as if every surface is blocked.
func New(gen Generator, surface Surface, opts Options) *Client {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.PrintGrace < 0 {
		opts.PrintGrace = 0
	}
	return &Client{gen: gen, surface: surface, opts: opts}
}

// SurfaceName reports the configured presentation surface, or "none".
func (c *Client) SurfaceName() string {
	if c.surface == nil {
		return "none"
	}
	return c.surface.Name()
}

// Options returns the effective options.
func (c *Client) Options() Options { return c.opts }

// Deliver requests the document and performs the requested mode. Errors from the
// Document Service are returned unchanged (*domain.ServerError, *domain.NetworkError,
// *domain.RequestSetupError); no delivery action is attempted after a failure.
func (c *Client) Deliver(ctx context.Context, req Request) (domain.Outcome, error) {
	mode, err := domain.ParseMode(string(req.Mode))
	if err != nil {
		return domain.Outcome{}, &domain.RequestSetupError{Err: err}
	}
	treq := domain.TicketRequest{
		Items:        req.Items,
		OrderNumber:  req.OrderNumber,
		CustomerName: req.CustomerName,
	}
	if err := treq.Validate(); err != nil {
		return domain.Outcome{}, &domain.RequestSetupError{Err: err}
	}

	doc, err := c.gen.Generate(ctx, treq, req.AuthToken)
	if err != nil {
		logging.Error("Ticket generation failed", "mode", mode, "error", err)
		return domain.Outcome{}, err
	}

	ref, err := materialize(c.opts.TempDir, doc)
	if err != nil {
		return domain.Outcome{}, err
	}

	out := domain.Outcome{
		RequestedMode: mode,
		Filename:      Filename(req.OrderNumber, c.opts.Clock.Now()),
		Bytes:         len(doc.Data),
		Cached:        doc.Cached,
	}

	switch mode {
	case domain.ModePrint:
		out, err = c.print(ctx, ref, out)
	case domain.ModeView:
		out, err = c.view(ctx, ref, out, req.Wait)
	default:
		out, err = c.download(ref, out)
	}
	if err == nil {
		logging.Info("Ticket delivered",
			"requested_mode", out.RequestedMode,
			"performed_mode", out.PerformedMode,
			"fell_back", out.FellBack,
			"filename", out.Filename,
			"bytes", out.Bytes,
			"cached", out.Cached,
		)
	}
	return out, err
}

func (c *Client) open(ctx context.Context, ref *localRef, mode domain.Mode) (Session, error) {
	if c.surface == nil {
		return nil, fmt.Errorf("%w: no surface configured", domain.ErrPresentationBlocked)
	}
	return c.surface.Open(ctx, ref.DocumentRef, mode)
}

func (c *Client) print(ctx context.Context, ref *localRef, out domain.Outcome) (domain.Outcome, error) {
	sess, err := c.open(ctx, ref, domain.ModePrint)
	if err != nil {
		return c.fallback(ref, out, err)
	}
	out.Surface = c.surface.Name()
	defer ref.Release()
	defer sess.Close()

	select {
	case <-sess.Loaded():
	case <-sess.Done():
		return out, errors.New("presentation closed before the document loaded")
	case <-ctx.Done():
		return out, ctx.Err()
	}

	// Printing straight after load can produce blank or partial output.
	if c.opts.PrintGrace > 0 {
		select {
		case <-c.opts.Clock.After(c.opts.PrintGrace):
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}

	if err := sess.Print(ctx); err != nil {
		return out, fmt.Errorf("print: %w", err)
	}
	out.PerformedMode = domain.ModePrint
	return out, nil
}

func (c *Client) view(ctx context.Context, ref *localRef, out domain.Outcome, wait bool) (domain.Outcome, error) {
	sess, err := c.open(ctx, ref, domain.ModeView)
	if err != nil {
		return c.fallback(ref, out, err)
	}
	out.Surface = c.surface.Name()
	out.PerformedMode = domain.ModeView

	if wait {
		select {
		case <-sess.Done():
		case <-ctx.Done():
			_ = sess.Close()
		}
		ref.Release()
		return out, nil
	}

	// The viewer keeps reading the file until the session ends.
	go func() {
		<-sess.Done()
		ref.Release()
	}()
	return out, nil
}

func (c *Client) fallback(ref *localRef, out domain.Outcome, cause error) (domain.Outcome, error) {
	logging.Warn("Presentation surface unavailable, falling back to download", "mode", out.RequestedMode, "error", cause)
	out.FellBack = true
	out.FallbackReason = cause.Error()
	return c.download(ref, out)
}

func (c *Client) download(ref *localRef, out domain.Outcome) (domain.Outcome, error) {
	defer ref.Release()

	dir := c.opts.DownloadDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return out, fmt.Errorf("create download dir: %w", err)
	}
	dst := filepath.Join(dir, out.Filename)
	if err := copyFile(ref.Path, dst); err != nil {
		return out, fmt.Errorf("save %s: %w", out.Filename, err)
	}
	out.SavedPath = dst
	out.PerformedMode = domain.ModeDownload
	return out, nil
}

// copyFile writes through a sibling temp file so readers never see a partial ticket.
func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".ticket-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
