// Package device resolves the recognition tuning profile for a client from
// its user agent, platform string and touch capability.
//
// Native continuous recognition behaves differently per platform family.
// Desktop engines run for a long time but can die without an end event, so
// they get a watchdog and a short restart delay. Mobile engines end after
// every utterance and are restarted from their end event only, since a
// watchdog there causes restart storms.
package device

import (
	"encoding/json"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Platform labels.
const (
	PlatformDesktop = "desktop"
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
	PlatformOther   = "other"
)

// Signals are the environment facts a profile is derived from.
type Signals struct {
	UserAgent      string
	Platform       string // navigator.platform, e.g. "MacIntel", "Win32"
	MaxTouchPoints int
}

// Profile tunes the recognition controller and watchdog. It is immutable and
// resolved once per session.
type Profile struct {
	UsesWatchdog     bool
	WatchdogInterval time.Duration
	RestartDelay     time.Duration
	Continuous       bool
	SilenceTimeout   time.Duration
	Platform         string
}

var (
	desktopProfile = Profile{
		UsesWatchdog:     true,
		WatchdogInterval: 2000 * time.Millisecond,
		RestartDelay:     100 * time.Millisecond,
		Continuous:       true,
		SilenceTimeout:   2000 * time.Millisecond,
		Platform:         PlatformDesktop,
	}
	androidProfile = Profile{
		WatchdogInterval: 3000 * time.Millisecond,
		RestartDelay:     500 * time.Millisecond,
		SilenceTimeout:   3000 * time.Millisecond,
		Platform:         PlatformAndroid,
	}
	fallbackProfile = Profile{
		WatchdogInterval: 3000 * time.Millisecond,
		RestartDelay:     300 * time.Millisecond,
		SilenceTimeout:   3000 * time.Millisecond,
		Platform:         PlatformOther,
	}
)

var iosDevice = regexp.MustCompile(`iPad|iPhone|iPod`)

// Resolve classifies s. The first matching class wins: desktop, then
// Android, then everything else.
func Resolve(s Signals) Profile {
	ua := s.UserAgent
	ios := IsIOS(s)

	switch {
	case !ios && isDesktop(ua, s.MaxTouchPoints):
		return desktopProfile
	case strings.Contains(ua, "Android"):
		return androidProfile
	default:
		p := fallbackProfile
		if ios {
			p.Platform = PlatformIOS
		}
		return p
	}
}

// IsIOS reports whether s describes an iPhone, iPod or iPad, including iPads
// that present themselves as a Mac with touch points.
func IsIOS(s Signals) bool {
	return iosDevice.MatchString(s.UserAgent) || (s.Platform == "MacIntel" && s.MaxTouchPoints > 1)
}

func isDesktop(ua string, touch int) bool {
	switch {
	case strings.Contains(ua, "Windows"):
		return true
	case strings.Contains(ua, "CrOS"):
		return true
	case strings.Contains(ua, "Linux") && !strings.Contains(ua, "Android"):
		return true
	case strings.Contains(ua, "Macintosh") || strings.Contains(ua, "Mac OS X"):
		return touch <= 1
	}
	return false
}

// PreferCapture reports whether the client should record audio for the
// server pipeline instead of using native recognition. iOS engines claim
// support but are unreliable, so iOS always captures.
func (p Profile) PreferCapture(nativeSupported bool) bool {
	return !nativeSupported || p.Platform == PlatformIOS
}

// SignalsFromRequest extracts Signals from r. The platform comes from the
// "platform" query parameter, falling back to the Sec-CH-UA-Platform client
// hint; touch points come from the "touch" query parameter.
func SignalsFromRequest(r *http.Request) Signals {
	q := r.URL.Query()
	platform := q.Get("platform")
	if platform == "" {
		platform = strings.Trim(r.Header.Get("Sec-CH-UA-Platform"), `"`)
	}
	touch, _ := strconv.Atoi(q.Get("touch"))
	return Signals{
		UserAgent:      r.UserAgent(),
		Platform:       platform,
		MaxTouchPoints: touch,
	}
}

// profileJSON is the wire form of a Profile. Durations are milliseconds.
type profileJSON struct {
	UsesWatchdog       bool   `json:"usesWatchdog"`
	WatchdogIntervalMs int64  `json:"watchdogIntervalMs"`
	RestartDelayMs     int64  `json:"restartDelayMs"`
	ContinuousMode     bool   `json:"continuousMode"`
	SilenceTimeoutMs   int64  `json:"silenceTimeoutMs"`
	Platform           string `json:"platform"`
}

// MarshalJSON implements json.Marshaler.
func (p Profile) MarshalJSON() ([]byte, error) {
	return json.Marshal(profileJSON{
		UsesWatchdog:       p.UsesWatchdog,
		WatchdogIntervalMs: p.WatchdogInterval.Milliseconds(),
		RestartDelayMs:     p.RestartDelay.Milliseconds(),
		ContinuousMode:     p.Continuous,
		SilenceTimeoutMs:   p.SilenceTimeout.Milliseconds(),
		Platform:           p.Platform,
	})
}
