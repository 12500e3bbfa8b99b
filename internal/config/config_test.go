package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("listenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.MaxRooms != DefaultMaxRooms {
		t.Fatalf("maxRooms=%d, want %d", cfg.MaxRooms, DefaultMaxRooms)
	}
	if cfg.DefaultMaxViewers != DefaultMaxViewers {
		t.Fatalf("defaultMaxViewers=%d, want %d", cfg.DefaultMaxViewers, DefaultMaxViewers)
	}
	if cfg.RoomIdleTTL != DefaultRoomIdleTTL {
		t.Fatalf("roomIdleTTL=%v, want %v", cfg.RoomIdleTTL, DefaultRoomIdleTTL)
	}
	if cfg.RoomSweepInterval != DefaultRoomSweepInterval {
		t.Fatalf("roomSweepInterval=%v, want %v", cfg.RoomSweepInterval, DefaultRoomSweepInterval)
	}
	if cfg.MaxSignalingMessageBytes != DefaultMaxSignalingMessageBytes {
		t.Fatalf("maxSignalingMessageBytes=%d, want %d", cfg.MaxSignalingMessageBytes, DefaultMaxSignalingMessageBytes)
	}
	if cfg.SignalingWSIdleTimeout != DefaultSignalingWSIdleTimeout {
		t.Fatalf("idleTimeout=%v, want %v", cfg.SignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	}
	if cfg.SignalingWSPingInterval != DefaultSignalingWSPingInterval {
		t.Fatalf("pingInterval=%v, want %v", cfg.SignalingWSPingInterval, DefaultSignalingWSPingInterval)
	}
	if cfg.OutboxMessages != DefaultOutboxMessages {
		t.Fatalf("outboxMessages=%d, want %d", cfg.OutboxMessages, DefaultOutboxMessages)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("allowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
}

func TestProdModeDefaultsToJSONInfo(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"SCREENBEAM_RELAY_MODE": "prod",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want prod", cfg.Mode)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want json", cfg.LogFormat)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"SCREENBEAM_RELAY_LISTEN_ADDR":      "0.0.0.0:9000",
		"ALLOWED_ORIGINS":                   "https://a.example, https://b.example ,",
		"MAX_ROOMS":                         "100",
		"DEFAULT_MAX_VIEWERS":               "5",
		"ROOM_IDLE_TTL":                     "2h",
		"ROOM_SWEEP_INTERVAL":               "1m",
		"MAX_SIGNALING_MESSAGE_BYTES":       "1024",
		"MAX_SIGNALING_MESSAGES_PER_SECOND": "10",
		"SIGNALING_WS_IDLE_TIMEOUT":         "90s",
		"SIGNALING_WS_PING_INTERVAL":        "15s",
		"OUTBOX_MESSAGES":                   "64",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("listenAddr=%q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("allowedOrigins=%v", cfg.AllowedOrigins)
	}
	if cfg.MaxRooms != 100 || cfg.DefaultMaxViewers != 5 {
		t.Fatalf("rooms=%d/%d, want 100/5", cfg.MaxRooms, cfg.DefaultMaxViewers)
	}
	if cfg.RoomIdleTTL != 2*time.Hour || cfg.RoomSweepInterval != time.Minute {
		t.Fatalf("ttl=%v sweep=%v", cfg.RoomIdleTTL, cfg.RoomSweepInterval)
	}
	if cfg.MaxSignalingMessageBytes != 1024 || cfg.MaxSignalingMessagesPerSecond != 10 {
		t.Fatalf("bytes=%d rate=%d", cfg.MaxSignalingMessageBytes, cfg.MaxSignalingMessagesPerSecond)
	}
	if cfg.SignalingWSIdleTimeout != 90*time.Second || cfg.SignalingWSPingInterval != 15*time.Second {
		t.Fatalf("idle=%v ping=%v", cfg.SignalingWSIdleTimeout, cfg.SignalingWSPingInterval)
	}
	if cfg.OutboxMessages != 64 {
		t.Fatalf("outboxMessages=%d", cfg.OutboxMessages)
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"SCREENBEAM_RELAY_LISTEN_ADDR": "127.0.0.1:1111",
		"SCREENBEAM_RELAY_MODE":        "prod",
	}), []string{"-listen-addr", "127.0.0.1:2222", "-mode", "dev", "-log-level", "warn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:2222" {
		t.Fatalf("listenAddr=%q, want flag value", cfg.ListenAddr)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want dev", cfg.Mode)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("logLevel=%v, want warn", cfg.LogLevel)
	}
}

func TestInvalidValues(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad int", map[string]string{"MAX_ROOMS": "many"}, "MAX_ROOMS"},
		{"bad duration", map[string]string{"ROOM_IDLE_TTL": "soon"}, "ROOM_IDLE_TTL"},
		{"negative rooms", map[string]string{"MAX_ROOMS": "-1"}, "MAX_ROOMS"},
		{"zero viewers", map[string]string{"DEFAULT_MAX_VIEWERS": "0"}, "DEFAULT_MAX_VIEWERS"},
		{"zero message bytes", map[string]string{"MAX_SIGNALING_MESSAGE_BYTES": "0"}, "MAX_SIGNALING_MESSAGE_BYTES"},
		{
			"ping not shorter than idle",
			map[string]string{"SIGNALING_WS_PING_INTERVAL": "60s", "SIGNALING_WS_IDLE_TIMEOUT": "60s"},
			"SIGNALING_WS_PING_INTERVAL",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(lookupMap(tc.env), nil)
			if err == nil {
				t.Fatalf("load succeeded, want error mentioning %s", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestInvalidModeAndLogFlags(t *testing.T) {
	if _, err := load(noEnv, []string{"-mode", "sideways"}); err == nil {
		t.Fatalf("invalid mode accepted")
	}
	if _, err := load(noEnv, []string{"-log-format", "xml"}); err == nil {
		t.Fatalf("invalid log format accepted")
	}
	if _, err := load(noEnv, []string{"-log-level", "loud"}); err == nil {
		t.Fatalf("invalid log level accepted")
	}
}
