// Package logging provides the leveled, structured logger used throughout
// the driver. It follows the klaytn/go-ethereum convention of a package-level
// `logger.Info("message", "key", value, ...)` call built on a named module,
// rather than a generic io.Writer sink.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
)

// Lvl is the severity of a log record, ordered from most severe (LvlCrit)
// to most verbose (LvlTrace).
type Lvl int

const (
	LvlCrit Lvl = iota
	LvlError
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlCrit:
		return "CRIT"
	case LvlError:
		return "ERRO"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DBUG"
	default:
		return "TRCE"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlCrit:  color.New(color.FgMagenta, color.Bold),
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Logger is a named, leveled logger carrying a fixed set of context fields.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
	// New returns a child logger with additional fixed context appended.
	New(ctx ...interface{}) Logger
}

var (
	mu       sync.Mutex
	minLevel = LvlInfo
	out      io.Writer
	useColor bool
)

func init() {
	out = colorable.NewColorableStderr()
	useColor = true
	if lv := os.Getenv("ERC20_PAY_LOG_LEVEL"); lv != "" {
		SetLevelFromString(lv)
	}
}

// SetLevelFromString sets the global minimum log level ("trace".."crit").
func SetLevelFromString(s string) {
	switch strings.ToLower(s) {
	case "trace":
		minLevel = LvlTrace
	case "debug":
		minLevel = LvlDebug
	case "info":
		minLevel = LvlInfo
	case "warn":
		minLevel = LvlWarn
	case "error":
		minLevel = LvlError
	case "crit":
		minLevel = LvlCrit
	}
}

// SetOutput redirects all module loggers to w (used by tests).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	useColor = false
}

type moduleLogger struct {
	module string
	ctx    []interface{}
}

// NewModuleLogger returns a Logger tagged with the given module name, the
// same shape as the teacher's log.NewModuleLogger(log.StorageDatabase) calls.
func NewModuleLogger(module string) Logger {
	return &moduleLogger{module: module}
}

func (l *moduleLogger) New(ctx ...interface{}) Logger {
	merged := make([]interface{}, 0, len(l.ctx)+len(ctx))
	merged = append(merged, l.ctx...)
	merged = append(merged, ctx...)
	return &moduleLogger{module: l.module, ctx: merged}
}

func (l *moduleLogger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *moduleLogger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *moduleLogger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *moduleLogger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *moduleLogger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }
func (l *moduleLogger) Crit(msg string, ctx ...interface{})  { l.write(LvlCrit, msg, ctx) }

func (l *moduleLogger) write(lvl Lvl, msg string, callCtx []interface{}) {
	if lvl > minLevel {
		return
	}
	mu.Lock()
	defer mu.Unlock()

	var b strings.Builder
	ts := time.Now().Format("2006-01-02T15:04:05.000Z07:00")
	if useColor {
		c := levelColor[lvl]
		fmt.Fprintf(&b, "%s [%s] %s ", c.Sprint(lvl.String()), ts, msg)
	} else {
		fmt.Fprintf(&b, "%s [%s] %s ", lvl.String(), ts, msg)
	}
	if l.module != "" {
		fmt.Fprintf(&b, "module=%s ", l.module)
	}
	writeCtx(&b, l.ctx)
	writeCtx(&b, callCtx)
	if lvl <= LvlError {
		// crit/error records carry the immediate caller for triage.
		// frames[0] is write, frames[1] the Error/Crit method.
		if frames := stack.Trace().TrimRuntime(); len(frames) > 2 {
			fmt.Fprintf(&b, "caller=%v ", frames[2])
		}
	}
	b.WriteString("\n")
	io.WriteString(out, b.String())
}

func writeCtx(b *strings.Builder, ctx []interface{}) {
	for i := 0; i+1 < len(ctx); i += 2 {
		fmt.Fprintf(b, "%v=%v ", ctx[i], ctx[i+1])
	}
	if len(ctx)%2 == 1 {
		fmt.Fprintf(b, "%v=MISSING ", ctx[len(ctx)-1])
	}
}

// Module name constants mirroring the teacher's log.StorageDatabase-style
// package identifiers, one per engine subsystem.
const (
	ModuleStore     = "store"
	ModuleSigner    = "signer"
	ModulePool      = "rpcpool"
	ModuleABI       = "abicoder"
	ModuleBuilder   = "txbuilder"
	ModuleGatherer  = "gatherer"
	ModuleProcessor = "processor"
	ModuleEvents    = "events"
	ModuleRuntime   = "runtime"
	ModuleConfig    = "config"
	ModuleRateLimit = "ratelimit"
)
