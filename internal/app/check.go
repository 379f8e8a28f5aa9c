package app

import (
	"context"
	"fmt"
	"io"

	"slotwatch/internal/checker"
	"slotwatch/internal/config"
	"slotwatch/internal/slots"
	logx "slotwatch/pkg/logx"
)

// RunCheck fetches slots once and prints them to out. Nothing is sent to
// subscribers and no history is kept. src may be nil to use the configured
// HTML source.
func RunCheck(ctx context.Context, cfgPath string, src slots.Source, out io.Writer) error {
	cfgm := config.NewManager(cfgPath)
	// only the source section matters here
	cfgm.SetValidator(nil)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}
	ss, err := config.ResolveSource(cfg)
	if err != nil {
		return err
	}

	if src == nil {
		log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "check"))
		src = slots.NewHTMLSource(htmlConfig(cfg, ss.RequestTimeout), log)
	}
	site := slots.Descriptor{BaseURL: cfg.Source.BaseURL, Location: ss.Location}

	found, err := src.FetchAvailableSlots(ctx, site)
	if err != nil {
		return fmt.Errorf("check %s: %w", site, err)
	}
	if len(found) == 0 {
		_, err = fmt.Fprintf(out, "No available slots on %s\n", site.BaseURL)
		return err
	}
	_, err = fmt.Fprintln(out, checker.FormatNotification(site, found))
	return err
}
