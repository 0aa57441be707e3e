package paginator

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/maltedev/product-research/internal/browser"
)

type Control interface {
	Click() error
}

// Surface is the part of a listing page the engine observes and drives.
type Surface interface {
	PageNumber() (int, bool)
	LastItemText() string
	PageControl(n int) (Control, bool)
	NextControl() (Control, bool)
	ExpectResponse(substr string, timeout time.Duration, action func() error) error
}

type Selectors struct {
	Root    string   `yaml:"root" json:"root"`
	Item    string   `yaml:"item" json:"item"`
	Active  string   `yaml:"active" json:"active"`
	Control string   `yaml:"control" json:"control"`
	Next    []string `yaml:"next" json:"next"`
}

// DefaultSelectors match Ant Design tables and pagination.
func DefaultSelectors() Selectors {
	return Selectors{
		Root:    "body",
		Item:    "tr.ant-table-row",
		Active:  ".ant-pagination-item-active",
		Control: ".ant-pagination-item",
		Next: []string{
			".ant-pagination-next:not(.ant-pagination-disabled) button",
			".ant-pagination-next:not(.ant-pagination-disabled)",
			`button:has-text("下一页")`,
			`a:has-text("Next")`,
			`a:has-text("›")`,
			`a:has-text("»")`,
			`button:has-text(">")`,
		},
	}
}

type PlaywrightSurface struct {
	page      playwright.Page
	selectors Selectors
	logger    *slog.Logger
}

func NewPlaywrightSurface(page playwright.Page, selectors Selectors, logger *slog.Logger) *PlaywrightSurface {
	defaults := DefaultSelectors()
	if selectors.Root == "" {
		selectors.Root = defaults.Root
	}
	if selectors.Active == "" {
		selectors.Active = defaults.Active
	}
	if selectors.Control == "" {
		selectors.Control = defaults.Control
	}
	if len(selectors.Next) == 0 {
		selectors.Next = defaults.Next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaywrightSurface{
		page:      page,
		selectors: selectors,
		logger:    logger.With("component", "paginator_surface"),
	}
}

func (s *PlaywrightSurface) root() playwright.Locator {
	return s.page.Locator(s.selectors.Root).First()
}

func (s *PlaywrightSurface) PageNumber() (int, bool) {
	active := s.root().Locator(s.selectors.Active).First()
	if count, err := active.Count(); err != nil || count == 0 {
		return 0, false
	}

	text, err := active.InnerText()
	if err != nil {
		text = ""
	}
	return pageNumberFrom(text, func() (string, bool) {
		// Some widgets wrap the number in a child anchor or span.
		child := active.Locator("> *").First()
		if count, err := child.Count(); err != nil || count == 0 {
			return "", false
		}
		text, err := child.InnerText()
		return text, err == nil
	})
}

// pageNumberFrom parses the active indicator's text, falling back to its
// first child's text.
func pageNumberFrom(text string, child func() (string, bool)) (int, bool) {
	if n, ok := parsePageNumber(text); ok {
		return n, true
	}
	if child == nil {
		return 0, false
	}
	if text, ok := child(); ok {
		return parsePageNumber(text)
	}
	return 0, false
}

func parsePageNumber(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// pagePattern matches a control whose whole text is n.
func pagePattern(n int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^\s*%d\s*$`, n))
}

func isDisabled(ariaDisabled, class string) bool {
	if strings.EqualFold(strings.TrimSpace(ariaDisabled), "true") {
		return true
	}
	for _, c := range strings.Fields(class) {
		if strings.Contains(c, "disabled") {
			return true
		}
	}
	return false
}

func (s *PlaywrightSurface) LastItemText() string {
	if s.selectors.Item == "" {
		return ""
	}
	last := s.root().Locator(s.selectors.Item).Last()
	if count, err := last.Count(); err != nil || count == 0 {
		return ""
	}
	text, err := last.InnerText()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func (s *PlaywrightSurface) PageControl(n int) (Control, bool) {
	loc := s.root().Locator(s.selectors.Control).Filter(playwright.LocatorFilterOptions{
		HasText: pagePattern(n),
	}).First()
	return s.usable(loc)
}

func (s *PlaywrightSurface) NextControl() (Control, bool) {
	for _, selector := range s.selectors.Next {
		if c, ok := s.usable(s.root().Locator(selector).First()); ok {
			return c, true
		}
	}
	return nil, false
}

func (s *PlaywrightSurface) usable(loc playwright.Locator) (Control, bool) {
	count, err := loc.Count()
	if err != nil || count == 0 {
		return nil, false
	}
	if visible, err := loc.IsVisible(); err != nil || !visible {
		return nil, false
	}
	aria, _ := loc.GetAttribute("aria-disabled")
	class, _ := loc.GetAttribute("class")
	if isDisabled(aria, class) {
		return nil, false
	}
	return &locatorControl{loc: loc}, true
}

func (s *PlaywrightSurface) ExpectResponse(substr string, timeout time.Duration, action func() error) error {
	pattern := regexp.MustCompile(regexp.QuoteMeta(substr))
	_, err := s.page.ExpectResponse(pattern, action, playwright.PageExpectResponseOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if errors.Is(err, playwright.ErrTimeout) {
		s.logger.Debug("response wait timed out", "match", substr)
		return fmt.Errorf("%w: waiting for response %q", browser.ErrTimeout, substr)
	}
	return err
}

type locatorControl struct {
	loc playwright.Locator
}

func (c *locatorControl) Click() error {
	if err := c.loc.Click(); err != nil {
		return fmt.Errorf("click pagination control: %w", err)
	}
	return nil
}
