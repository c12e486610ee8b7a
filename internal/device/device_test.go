package device_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/goftar/internal/device"
)

const (
	uaWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	uaMac     = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaLinux   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	uaCrOS    = "Mozilla/5.0 (X11; CrOS x86_64 14541.0.0) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	uaAndroid = "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Mobile Safari/537.36"
	uaIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	uaUnknown = "curl/8.5.0"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		signals  device.Signals
		platform string
		watchdog bool
		restart  time.Duration
	}{
		{"windows", device.Signals{UserAgent: uaWindows, Platform: "Win32"}, device.PlatformDesktop, true, 100 * time.Millisecond},
		{"macos", device.Signals{UserAgent: uaMac, Platform: "MacIntel"}, device.PlatformDesktop, true, 100 * time.Millisecond},
		{"linux", device.Signals{UserAgent: uaLinux, Platform: "Linux x86_64"}, device.PlatformDesktop, true, 100 * time.Millisecond},
		{"chromeos", device.Signals{UserAgent: uaCrOS}, device.PlatformDesktop, true, 100 * time.Millisecond},
		{"android", device.Signals{UserAgent: uaAndroid, Platform: "Linux armv8l", MaxTouchPoints: 5}, device.PlatformAndroid, false, 500 * time.Millisecond},
		{"iphone", device.Signals{UserAgent: uaIPhone, Platform: "iPhone", MaxTouchPoints: 5}, device.PlatformIOS, false, 300 * time.Millisecond},
		{"ipad as mac", device.Signals{UserAgent: uaMac, Platform: "MacIntel", MaxTouchPoints: 5}, device.PlatformIOS, false, 300 * time.Millisecond},
		{"unknown", device.Signals{UserAgent: uaUnknown}, device.PlatformOther, false, 300 * time.Millisecond},
		{"empty", device.Signals{}, device.PlatformOther, false, 300 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := device.Resolve(tt.signals)
			if p.Platform != tt.platform {
				t.Errorf("Platform = %q, want %q", p.Platform, tt.platform)
			}
			if p.UsesWatchdog != tt.watchdog {
				t.Errorf("UsesWatchdog = %v, want %v", p.UsesWatchdog, tt.watchdog)
			}
			if p.RestartDelay != tt.restart {
				t.Errorf("RestartDelay = %v, want %v", p.RestartDelay, tt.restart)
			}
		})
	}
}

func TestResolve_ProfileValues(t *testing.T) {
	t.Parallel()

	desktop := device.Resolve(device.Signals{UserAgent: uaWindows})
	want := device.Profile{
		UsesWatchdog:     true,
		WatchdogInterval: 2 * time.Second,
		RestartDelay:     100 * time.Millisecond,
		Continuous:       true,
		SilenceTimeout:   2 * time.Second,
		Platform:         device.PlatformDesktop,
	}
	if desktop != want {
		t.Errorf("desktop = %+v, want %+v", desktop, want)
	}

	android := device.Resolve(device.Signals{UserAgent: uaAndroid})
	if android.Continuous || android.WatchdogInterval != 3*time.Second || android.SilenceTimeout != 3*time.Second {
		t.Errorf("android = %+v", android)
	}
}

func TestResolve_Pure(t *testing.T) {
	t.Parallel()

	s := device.Signals{UserAgent: uaAndroid}
	if device.Resolve(s) != device.Resolve(s) {
		t.Error("Resolve is not deterministic")
	}
}

func TestPreferCapture(t *testing.T) {
	t.Parallel()

	desktop := device.Resolve(device.Signals{UserAgent: uaWindows})
	ios := device.Resolve(device.Signals{UserAgent: uaIPhone})

	if desktop.PreferCapture(true) {
		t.Error("desktop with native support should not capture")
	}
	if !desktop.PreferCapture(false) {
		t.Error("desktop without native support should capture")
	}
	if !ios.PreferCapture(true) {
		t.Error("iOS should always capture")
	}
}

func TestSignalsFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest("GET", "/api/profile?platform=MacIntel&touch=5", nil)
	r.Header.Set("User-Agent", uaMac)
	s := device.SignalsFromRequest(r)
	if s.UserAgent != uaMac || s.Platform != "MacIntel" || s.MaxTouchPoints != 5 {
		t.Errorf("signals = %+v", s)
	}
	if p := device.Resolve(s); p.Platform != device.PlatformIOS {
		t.Errorf("iPad request resolved to %q", p.Platform)
	}

	hint := httptest.NewRequest("GET", "/api/profile", nil)
	hint.Header.Set("Sec-CH-UA-Platform", `"Windows"`)
	if s := device.SignalsFromRequest(hint); s.Platform != "Windows" || s.MaxTouchPoints != 0 {
		t.Errorf("client hint signals = %+v", s)
	}
}

func TestProfile_MarshalJSON(t *testing.T) {
	t.Parallel()

	raw, err := json.Marshal(device.Resolve(device.Signals{UserAgent: uaWindows}))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["watchdogIntervalMs"] != float64(2000) || got["restartDelayMs"] != float64(100) ||
		got["continuousMode"] != true || got["platform"] != "desktop" {
		t.Errorf("json = %s", raw)
	}
}
