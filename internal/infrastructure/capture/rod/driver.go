// Package rod реализует Capture Driver поверх headless Chrome (go-rod).
package rod

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/pkg/logger"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 720
)

// Config настройки браузера
type Config struct {
	// RemoteURL WebSocket URL внешнего Chrome; пусто = локальный запуск
	RemoteURL      string
	ViewportWidth  int
	ViewportHeight int
	FullPage       bool
	Stealth        bool
	// SettleDelay пауза после загрузки страницы (анимации, шрифты)
	SettleDelay time.Duration
	// Attempts число попыток снимка, по умолчанию 2
	Attempts int
}

func (c *Config) defaults() {
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = DefaultViewportWidth
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = DefaultViewportHeight
	}
	if c.Attempts <= 0 {
		c.Attempts = 2
	}
}

// Driver делает PNG снимки страниц. Браузер запускается при первом снимке.
type Driver struct {
	cfg    Config
	logger *logger.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func NewDriver(cfg Config, log *logger.Logger) *Driver {
	cfg.defaults()
	return &Driver{cfg: cfg, logger: log}
}

// Capture открывает target в новой вкладке и возвращает PNG снимок
func (d *Driver) Capture(ctx context.Context, target string) ([]byte, error) {
	target, err := ValidateTarget(target)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		data, err := d.captureOnce(ctx, target)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil || attempt >= d.cfg.Attempts {
			return nil, err
		}

		d.logger.Warn("browser: capture attempt failed", "target", target, "attempt", attempt, "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
}

func (d *Driver) captureOnce(ctx context.Context, target string) ([]byte, error) {
	b, err := d.ensureBrowser()
	if err != nil {
		return nil, err
	}

	var page *rod.Page
	if d.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			d.logger.Debug("browser: close tab failed", "error", closeErr.Error())
		}
	}()

	page = page.Context(ctx)

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.ViewportWidth,
		Height:            d.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: set viewport: %w", err)
	}

	if err := page.Navigate(target); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", target, err)
	}

	if d.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.cfg.SettleDelay):
		}
	}

	data, err := page.Screenshot(d.cfg.FullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot %s: %w", target, err)
	}

	d.logger.Debug("browser: captured", "target", target, "bytes", len(data))
	return data, nil
}

func (d *Driver) ensureBrowser() (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("browser: driver is closed")
	}
	if d.browser != nil {
		return d.browser, nil
	}

	wsURL := d.cfg.RemoteURL
	if wsURL != "" {
		d.logger.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled").
			Set("hide-scrollbars")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		d.lnch = l
		d.logger.Info("browser: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		d.cleanupLocked()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}

	d.browser = b
	return b, nil
}

// Close завершает браузер; повторный вызов безопасен
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.cleanupLocked()
	return nil
}

func (d *Driver) cleanupLocked() {
	if d.browser != nil {
		if err := d.browser.Close(); err != nil {
			d.logger.Warn("browser: close failed", "error", err.Error())
		}
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Cleanup()
		d.lnch = nil
	}
}

// ValidateTarget принимает http(s) URL с хостом или file:// путь
func ValidateTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", fmt.Errorf("capture target is empty")
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid capture target: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("capture target %q has no host", target)
		}
	case "file":
		if u.Path == "" {
			return "", fmt.Errorf("capture target %q has no path", target)
		}
	default:
		return "", fmt.Errorf("unsupported capture target scheme %q", u.Scheme)
	}

	return target, nil
}

var _ port.CaptureDriver = (*Driver)(nil)
