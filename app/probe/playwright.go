package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightBrowser is a chromium browser driven by playwright
type PlaywrightBrowser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewPlaywrightBrowser installs chromium if needed and launches it
func NewPlaywrightBrowser(headless bool) (*PlaywrightBrowser, error) {
	if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(headless)})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	return &PlaywrightBrowser{pw: pw, browser: browser}, nil
}

// NewPage opens a page in an isolated context with initScript injected
func (b *PlaywrightBrowser) NewPage(initScript string) (Page, error) {
	bctx, err := b.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("can't make browser context: %w", err)
	}
	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(initScript)}); err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("can't add init script: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("can't make page: %w", err)
	}
	return &playwrightPage{bctx: bctx, page: page}, nil
}

// Close shuts down the browser and the driver
func (b *PlaywrightBrowser) Close() error {
	return errors.Join(b.browser.Close(), b.pw.Stop())
}

type playwrightPage struct {
	bctx playwright.BrowserContext
	page playwright.Page
}

func (p *playwrightPage) Goto(_ context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{WaitUntil: playwright.WaitUntilStateLoad})
	return err
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).First().Click()
}

func (p *playwrightPage) Entries() ([]byte, error) {
	res, err := p.page.Evaluate("() => window.__hypercartEntries ? window.__hypercartEntries() : '[]'")
	if err != nil {
		return nil, err
	}
	s, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected entries result %T", res)
	}
	return []byte(s), nil
}

func (p *playwrightPage) Close() error {
	return p.bctx.Close()
}
