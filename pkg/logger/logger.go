// Package logger keeps the teacher's colored-logging surface (Debug, Info,
// Warn, Error, Success, Fatal, InfoCyan, Section, Banner) but routes every
// call through a logrus.Logger instead of the standard library's log
// package, and colors level prefixes with fatih/color instead of raw ANSI
// escapes so output degrades gracefully on non-TTY destinations (piped
// logs, Windows consoles without ANSI support).
package logger

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Log levels, preserved from the teacher's iota sequence so existing
// SetLevel(logger.LevelWarn) call sites keep compiling unchanged.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSuccess
)

var (
	base = logrus.New()

	successColor = color.New(color.FgGreen, color.Bold)
	infoColor    = color.New(color.FgWhite)
	cyanColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	debugColor   = color.New(color.FgHiBlack)
)

func init() {
	base.SetOutput(os.Stdout)
	base.SetLevel(logrus.DebugLevel)
	base.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		TimestampFormat:  "15:04:05",
		FullTimestamp:    true,
	})
	setLevel(LevelInfo)
}

// SetLevel sets the minimum log level, using the teacher's level constants.
func SetLevel(level int) { setLevel(level) }

func setLevel(level int) {
	switch level {
	case LevelDebug:
		base.SetLevel(logrus.DebugLevel)
	case LevelInfo, LevelSuccess:
		base.SetLevel(logrus.InfoLevel)
	case LevelWarn:
		base.SetLevel(logrus.WarnLevel)
	case LevelError:
		base.SetLevel(logrus.ErrorLevel)
	}
}

// SetTimeFormat sets the timestamp layout used in every log line.
func SetTimeFormat(format string) {
	if tf, ok := base.Formatter.(*logrus.TextFormatter); ok {
		tf.TimestampFormat = format
	}
}

// ShowTime enables or disables the timestamp prefix.
func ShowTime(show bool) {
	if tf, ok := base.Formatter.(*logrus.TextFormatter); ok {
		tf.DisableTimestamp = !show
		tf.FullTimestamp = show
	}
}

func say(c *color.Color, prefix, format string, args ...interface{}) string {
	return c.Sprintf("[%s] %s", prefix, fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	base.Debugln(say(debugColor, "DEBUG", format, args...))
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	base.Infoln(say(infoColor, "INFO", format, args...))
}

// Warn logs a warning message.
func Warn(format string, args ...interface{}) {
	base.Warnln(say(warnColor, "WARN", format, args...))
}

// Error logs an error message.
func Error(format string, args ...interface{}) {
	base.Errorln(say(errorColor, "ERROR", format, args...))
}

// Success logs a success message at info level, colored green.
func Success(format string, args ...interface{}) {
	base.Infoln(say(successColor, "SUCCESS", format, args...))
}

// Fatal logs a fatal error and exits the process.
func Fatal(format string, args ...interface{}) {
	base.Fatalln(say(errorColor, "FATAL", format, args...))
}

// InfoCyan logs an info message highlighted in cyan.
func InfoCyan(format string, args ...interface{}) {
	base.Infoln(say(cyanColor, "INFO", format, args...))
}

// Section prints a section header banner.
func Section(title string) {
	border := "═══════════════════════════════════════════════════════════"
	c := cyanColor
	fmt.Println()
	fmt.Println(c.Sprintf("╔%s╗", border))
	fmt.Println(c.Sprintf("║ %-57s ║", title))
	fmt.Println(c.Sprintf("╚%s╝", border))
	fmt.Println()
}

// Banner prints the application banner.
func Banner(title, version string) {
	fmt.Println(cyanColor.Sprint(`
╔═══════════════════════════════════════════════════════════╗
║                                                           ║
║   ██████╗  █████╗ ██╗  ██╗███╗   ██╗███████╗████████╗     ║
║   ██╔══██╗██╔══██╗██║ ██╔╝████╗  ██║██╔════╝╚══██╔══╝     ║
║   ██████╔╝███████║█████╔╝ ██╔██╗ ██║█████╗     ██║        ║
║   ██╔══██╗██╔══██║██╔═██╗ ██║╚██╗██║██╔══╝     ██║        ║
║   ██║  ██║██║  ██║██║  ██╗██║ ╚████║███████╗   ██║        ║
║   ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚══════╝   ╚═╝        ║
║                                                           ║`))
	fmt.Printf("║              %s%-37s%s║\n", cyanColor.Sprint(""), title, color.New().Sprint(""))
	fmt.Printf("║                    %sVersion %-7s%s                      ║\n", successColor.Sprint(""), version, color.New().Sprint(""))
	fmt.Println(cyanColor.Sprint(`╚═══════════════════════════════════════════════════════════╝`))
}
