// Package antiban holds the pure pacing decisions of the dispatch engine:
// jitter computation, send eligibility and next-allowed-time search. No I/O,
// no hidden state; everything derives from the campaign's AntiBanConfig and
// its mutable AntiBanState.
package antiban

import (
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/samuelwildary2025/disparo/internal/model"
)

// DelayResult breaks the computed delay into its components so callers can
// record whether a long pause applied.
type DelayResult struct {
	Base      time.Duration
	LongPause time.Duration
	Total     time.Duration
}

// randSeconds returns a uniform random duration of whole seconds in the
// inclusive range [min, max].
func randSeconds(min, max int) time.Duration {
	if max < min {
		max = min
	}
	if max == min {
		return time.Duration(min) * time.Second
	}
	return time.Duration(rand.Intn(max-min+1)+min) * time.Second
}

// ComputeNextDelay returns the pause to impose after the send that brings the
// state to its current counters. The long pause applies only when
// MessagesSent is a positive multiple of LongPauseEvery.
func ComputeNextDelay(cfg model.AntiBanConfig, state model.AntiBanState) DelayResult {
	base := randSeconds(cfg.MinIntervalSeconds, cfg.MaxIntervalSeconds)

	var longPause time.Duration
	if cfg.LongPauseEvery > 0 && state.MessagesSent > 0 && state.MessagesSent%cfg.LongPauseEvery == 0 {
		longPause = randSeconds(cfg.LongPauseMinSeconds, cfg.LongPauseMaxSeconds)
	}

	return DelayResult{
		Base:      base,
		LongPause: longPause,
		Total:     base + longPause,
	}
}

// CanSendNow reports whether a send is permitted at now. The daily limit
// dominates when configured; DailyLimit <= 0 means uncapped. With no
// configured windows any time of day is allowed.
func CanSendNow(cfg model.AntiBanConfig, now time.Time, state model.AntiBanState) bool {
	if cfg.DailyLimit > 0 && state.DailyCount >= cfg.DailyLimit {
		return false
	}

	if len(cfg.AllowedWindows) == 0 {
		return true
	}

	for _, w := range cfg.AllowedWindows {
		if WithinWindow(now, w.Start, w.End) {
			return true
		}
	}
	return false
}

// WithinWindow reports whether now's time of day falls inside [start, end],
// both "HH:mm" and inclusive. start > end means the window wraps midnight.
func WithinWindow(now time.Time, start, end string) bool {
	minutes := now.Hour()*60 + now.Minute()
	startMinutes := toMinutes(start)
	endMinutes := toMinutes(end)

	if startMinutes <= endMinutes {
		return minutes >= startMinutes && minutes <= endMinutes
	}
	return minutes >= startMinutes || minutes <= endMinutes
}

// NextAllowedAt returns the earliest instant at or after from satisfying the
// window configuration: from itself when no windows are configured or from is
// already inside one, otherwise the start of the next window today, otherwise
// the first window tomorrow.
func NextAllowedAt(cfg model.AntiBanConfig, from time.Time) time.Time {
	if len(cfg.AllowedWindows) == 0 {
		return from
	}

	minutesNow := from.Hour()*60 + from.Minute()

	sorted := make([]model.TimeWindow, len(cfg.AllowedWindows))
	copy(sorted, cfg.AllowedWindows)
	sort.Slice(sorted, func(i, j int) bool {
		return toMinutes(sorted[i].Start) < toMinutes(sorted[j].Start)
	})

	for _, w := range sorted {
		if WithinWindow(from, w.Start, w.End) {
			return from
		}
		if start := toMinutes(w.Start); minutesNow < start {
			return atMinutes(from, start)
		}
	}

	return atMinutes(from.AddDate(0, 0, 1), toMinutes(sorted[0].Start))
}

func toMinutes(hhmm string) int {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h*60 + m
}

func atMinutes(day time.Time, minutes int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minutes/60, minutes%60, 0, 0, day.Location())
}
