// Package logging is syncengine's ambient logging sink, generalizing
// the teacher's console.Printf into a small interface every subsystem
// can log through without depending on *how* those lines ultimately
// get written.
package logging

import (
	"fmt"
	"log"
	"os"
)

// Logger is the logging surface every subsystem calls through.
// Cryptographic and signature failures are logged at Warnf, per spec
// §7, with the offending sender DID in the message.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// stdLogger is the default Logger, backed by the standard library's
// log.Logger writing to stderr with a component prefix.
type stdLogger struct {
	l *log.Logger
}

// New returns a Logger that writes every line as "[component] ", the
// log.LstdFlags date and time, then "LEVEL: " and the message.
func New(component string) Logger {
	return &stdLogger{l: log.New(os.Stderr, fmt.Sprintf("[%s] ", component), log.LstdFlags)}
}

func (s *stdLogger) Infof(format string, args ...any)  { s.l.Printf("INFO: "+format, args...) }
func (s *stdLogger) Warnf(format string, args ...any)  { s.l.Printf("WARN: "+format, args...) }
func (s *stdLogger) Errorf(format string, args ...any) { s.l.Printf("ERROR: "+format, args...) }
