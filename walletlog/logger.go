// Package walletlog defines the logging seam used throughout the wallet
// core. No concrete logging library is imported here by design: the
// teacher's own code never imports go.uber.org/zap directly (it is only
// a transitive dependency of an unrelated package) and instead logs with
// fmt and returns errors for the caller to report. This package follows
// the same idiom but names the seam so a host application can plug in
// zap, logrus, or anything else that satisfies Logger.
package walletlog

import "log"

// Logger is the minimal structured-ish logging interface every component
// in this module accepts. Implementations are not required to be
// thread-safe beyond what the standard log package already guarantees.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop discards everything. Used as the default when a caller passes no
// Logger.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}

// Std wraps the standard library logger. Debug messages are dropped
// unless Verbose is set, matching the typical CLI default.
type Std struct {
	Verbose bool
}

func (s Std) Debugf(format string, args ...interface{}) {
	if s.Verbose {
		log.Printf("DEBUG "+format, args...)
	}
}

func (Std) Infof(format string, args ...interface{}) {
	log.Printf("INFO "+format, args...)
}

func (Std) Warnf(format string, args ...interface{}) {
	log.Printf("WARN "+format, args...)
}

func (Std) Errorf(format string, args ...interface{}) {
	log.Printf("ERROR "+format, args...)
}
