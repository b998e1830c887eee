package main

import (
	"io"
	"time"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GrigoryEvko/rtlink/internal/scan"
)

// barProgress draws the scan on a terminal progress bar. In debug mode the
// bar is replaced by throttled log lines so it does not fight the logger
// for stderr.
type barProgress struct {
	w      io.Writer
	debug  bool
	logger *zap.SugaredLogger
	bar    *progressbar.ProgressBar
	every  rate.Sometimes
}

func newBarProgress(w io.Writer, debug bool, logger *zap.SugaredLogger) *barProgress {
	if w == nil {
		w = ansi.NewAnsiStderr()
	}
	return &barProgress{
		w:      w,
		debug:  debug,
		logger: logger,
		every:  rate.Sometimes{First: 1, Interval: 2 * time.Second},
	}
}

func (p *barProgress) Discovered(total int) {
	if p.debug {
		p.logger.Debugf("Scanning %d candidate files", total)
		return
	}
	if total == 0 {
		return
	}
	p.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetDescription("[cyan]Scanning[reset]"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func (p *barProgress) Advance(stats scan.Stats) {
	if p.debug {
		p.every.Do(func() {
			p.logger.Debugf("[%d/%d] accepted: %d | unreadable: %d | rejected: %d | from index: %d",
				stats.Scanned, stats.Discovered, stats.Accepted, stats.Unreadable, stats.Rejected, stats.FromIndex)
		})
		return
	}
	if p.bar != nil {
		_ = p.bar.Set(stats.Scanned)
	}
}

func (p *barProgress) Finish(stats scan.Stats) {
	if p.debug {
		p.logger.Debugf("Scanned %d of %d files in %s", stats.Scanned, stats.Discovered, stats.Elapsed.Round(time.Millisecond))
		return
	}
	if p.bar != nil {
		_ = p.bar.Finish()
		_, _ = io.WriteString(p.w, "\n")
		p.bar = nil
	}
}
