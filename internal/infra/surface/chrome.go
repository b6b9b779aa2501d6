package surface

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/chromedp"

	"ticket-delivery/internal/config"
	"ticket-delivery/internal/delivery"
	"ticket-delivery/internal/domain"
	"ticket-delivery/internal/infra/logging"
)

// Chrome presents tickets in a Chrome tab driven over the DevTools protocol.
// With kiosk_printing enabled, window.print() goes straight to the default printer.
type Chrome struct {
	cfg     config.SurfaceConfig
	viewTTL time.Duration
}

func NewChrome(cfg config.SurfaceConfig, viewTTL time.Duration) *Chrome {
	return &Chrome{cfg: cfg, viewTTL: viewTTL}
}

func (s *Chrome) Name() string { return "chrome" }

func (s *Chrome) Open(ctx context.Context, doc domain.DocumentRef, mode domain.Mode) (delivery.Session, error) {
	if s.cfg.ChromePath != "" {
		if _, err := exec.LookPath(s.cfg.ChromePath); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrPresentationBlocked, err)
		}
	}

	profileDir, err := createProfileDir(s.cfg.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPresentationBlocked, err)
	}

	// The browser outlives the caller's request; only startup is bound to ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(s.cfg, profileDir)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	cs := &chromeSession{ctx: tabCtx, loaded: make(chan struct{})}
	cs.life = newLifetime(s.viewTTL, func() {
		tabCancel()
		allocCancel()
		_ = os.RemoveAll(profileDir)
	})

	stop := context.AfterFunc(ctx, tabCancel)
	err = chromedp.Run(tabCtx)
	stop()
	if err != nil {
		cs.life.stop()
		return nil, fmt.Errorf("%w: chrome failed to start: %v", domain.ErrPresentationBlocked, err)
	}

	chromedp.ListenTarget(tabCtx, func(ev any) {
		if _, ok := ev.(*inspector.EventDetached); ok {
			go cs.life.end()
		}
	})
	go func() {
		<-tabCtx.Done()
		cs.life.end()
	}()
	go cs.load(doc.URL())

	return cs, nil
}

func allocatorOptions(cfg config.SurfaceConfig, profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		// Force software rendering and avoid Vulkan/ANGLE issues on kiosk hardware.
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-gpu-compositing", true),
		chromedp.Flag("disable-features", "Vulkan,UseSkiaRenderer"),
		chromedp.Flag("use-gl", "swiftshader"),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if !cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.KioskPrinting {
		opts = append(opts, chromedp.Flag("kiosk-printing", true))
	}
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.ChromeNoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	return opts
}

func createProfileDir(base string) (string, error) {
	if base == "" {
		base = os.TempDir()
	}
	if err := os.MkdirAll(base, 0o700); err != nil {
		return "", fmt.Errorf("cannot create chrome profile base dir: %w", err)
	}
	dir, err := os.MkdirTemp(base, "ticket-chrome-*")
	if err != nil {
		return "", fmt.Errorf("cannot create chrome profile dir: %w", err)
	}
	return dir, nil
}

type chromeSession struct {
	ctx    context.Context
	loaded chan struct{}
	life   *lifetime
}

func (cs *chromeSession) load(url string) {
	if err := chromedp.Run(cs.ctx, chromedp.Navigate(url)); err != nil {
		if IsSessionInterrupted(err) {
			logging.Warn("Chrome session interrupted while loading ticket", "error", err)
		} else {
			logging.Error("Chrome failed to load ticket", "url", url, "error", err)
		}
		cs.life.end()
		return
	}
	close(cs.loaded)
}

func (cs *chromeSession) Loaded() <-chan struct{} { return cs.loaded }
func (cs *chromeSession) Done() <-chan struct{}   { return cs.life.done }

func (cs *chromeSession) Print(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(cs.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Evaluate(`window.print()`, nil))
}

func (cs *chromeSession) Close() error {
	cs.life.stop()
	return nil
}

// IsSessionInterrupted reports errors caused by the tab or browser going away
// rather than by the document itself.
func IsSessionInterrupted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "websocket") ||
		strings.Contains(msg, "browser closed")
}
