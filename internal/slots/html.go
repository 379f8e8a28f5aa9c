package slots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	logx "slotwatch/pkg/logx"
)

// HTMLConfig describes how to find slots on the appointment page.
//
// Defaults (when fields are empty/zero):
//   - container: "body"
//   - slot_selector: "[data-slot]"
//   - date_attr: "data-datetime"
//   - date_layout: "2006-01-02T15:04"
//   - timeout: 20s
type HTMLConfig struct {
	Container    string
	SlotSelector string
	DateAttr     string
	DateLayout   string
	UserAgent    string
	Timeout      time.Duration
	MaxPageBytes int64
}

// HTMLSource scrapes a page listing free slots as elements carrying a
// machine-readable date attribute.
type HTMLSource struct {
	cfg  HTMLConfig
	http *http.Client
	log  logx.Logger
}

var reSpaces = regexp.MustCompile(`\s+`)

func NewHTMLSource(cfg HTMLConfig, log logx.Logger) *HTMLSource {
	if strings.TrimSpace(cfg.Container) == "" {
		cfg.Container = "body"
	}
	if strings.TrimSpace(cfg.SlotSelector) == "" {
		cfg.SlotSelector = "[data-slot]"
	}
	if strings.TrimSpace(cfg.DateAttr) == "" {
		cfg.DateAttr = "data-datetime"
	}
	if strings.TrimSpace(cfg.DateLayout) == "" {
		cfg.DateLayout = "2006-01-02T15:04"
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxPageBytes <= 0 {
		cfg.MaxPageBytes = 4 << 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTMLSource{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

func (s *HTMLSource) FetchAvailableSlots(ctx context.Context, d Descriptor) ([]Slot, error) {
	body, err := s.fetch(ctx, d.BaseURL)
	if err != nil {
		return nil, err
	}
	return parseSlots(body, s.cfg, d.Loc())
}

func (s *HTMLSource) fetch(ctx context.Context, url string) (io.Reader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrSourceUnavailable, err)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrSourceUnavailable, resp.StatusCode)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrSourceUnavailable, err)
	}
	s.log.Debug("page fetched", logx.String("url", url), logx.Int("bytes", len(b)))
	return strings.NewReader(string(b)), nil
}

func parseSlots(r io.Reader, cfg HTMLConfig, loc *time.Location) ([]Slot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", ErrSourceFormatChanged, err)
	}
	root := doc.Find(cfg.Container).First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("%w: %q not found", ErrSourceFormatChanged, cfg.Container)
	}

	var (
		out      []Slot
		parseErr error
	)
	root.Find(cfg.SlotSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw, ok := sel.Attr(cfg.DateAttr)
		if !ok {
			parseErr = fmt.Errorf("%w: slot without %s attribute", ErrSourceFormatChanged, cfg.DateAttr)
			return false
		}
		at, err := time.ParseInLocation(cfg.DateLayout, strings.TrimSpace(raw), loc)
		if err != nil {
			parseErr = fmt.Errorf("%w: slot date %q: %v", ErrSourceFormatChanged, raw, err)
			return false
		}
		out = append(out, Slot{
			DateTime:    at,
			Description: strings.TrimSpace(reSpaces.ReplaceAllString(sel.Text(), " ")),
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}
