package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35

	colorBold = 1
)

func colorize(s interface{}, c int) string {
	return fmt.Sprintf("\x1b[%dm%v\x1b[0m", c, s)
}

// New creates a logger based on the ENV environment variable. The level
// argument wins over LOG_LEVEL; both fall back to debug in development and
// info in production.
func New(level string) zerolog.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	if IsDevelopment() {
		return NewDevelopment(os.Stderr).Level(ParseLevel(level, zerolog.DebugLevel))
	}
	return NewProduction(os.Stderr).Level(ParseLevel(level, zerolog.InfoLevel))
}

// IsDevelopment reports whether ENV selects the console writer.
func IsDevelopment() bool {
	env := strings.ToLower(os.Getenv("ENV"))
	return env == "development" || env == "dev" || env == ""
}

// ParseLevel maps a level name onto a zerolog level, returning fallback for
// empty or unknown names.
func ParseLevel(level string, fallback zerolog.Level) zerolog.Level {
	if level == "" {
		return fallback
	}
	l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || l == zerolog.NoLevel {
		return fallback
	}
	return l
}

// NewDevelopment creates a development logger with console output and colors
func NewDevelopment(out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:         out,
		TimeFormat:  "2006-01-02 15:04:05",
		FormatLevel: formatLevel,
	}
	return zerolog.New(output).With().Timestamp().Logger()
}

// NewProduction creates a production logger with JSON output and UNIX timestamps
func NewProduction(out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	return zerolog.New(out).With().Timestamp().Logger()
}

func formatLevel(i interface{}) string {
	ll, ok := i.(string)
	if !ok {
		return strings.ToUpper(fmt.Sprintf("%s", i))
	}
	switch ll {
	case "trace":
		return colorize("TRC", colorMagenta)
	case "debug":
		return colorize("DBG", colorYellow)
	case "info":
		return colorize("INF", colorGreen)
	case "warn":
		return colorize("WRN", colorRed)
	case "error":
		return colorize("ERR", colorRed)
	case "fatal":
		return colorize("FTL", colorRed)
	case "panic":
		return colorize("PNC", colorRed)
	}
	if len(ll) >= 3 {
		return colorize(strings.ToUpper(ll)[0:3], colorBold)
	}
	return colorize(strings.ToUpper(ll), colorBold)
}

// Redact shortens a secret to its first and last six characters so it can be
// logged without leaking the value.
func Redact(secret string) string {
	if len(secret) > 12 {
		return secret[:6] + "…" + secret[len(secret)-6:]
	}
	if secret == "" {
		return ""
	}
	return strings.Repeat("*", len(secret))
}

// Preview truncates s to max bytes, marking the cut.
func Preview(s string, max int) string {
	if len(s) > max {
		return s[:max] + "…(truncated)"
	}
	return s
}
