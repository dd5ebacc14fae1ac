// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logger registers one tagged Logger per dagchain subsystem on top
// of a shared logs.Backend, and wires it to stdout plus a rotating file pair.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dagchain/dagchain/logs"
	"github.com/jrick/logrotate/rotator"
)

type stdoutAndRotator struct {
	rotator *rotator.Rotator
}

func (w *stdoutAndRotator) Write(p []byte) (int, error) {
	if w.rotator != nil {
		_, _ = w.rotator.Write(p)
	}
	return os.Stdout.Write(p)
}

var (
	backendLog = logs.NewBackend()

	// LogRotator is the logging output for records of every level. It should
	// be closed on application shutdown.
	LogRotator *rotator.Rotator
	// ErrLogRotator is the logging output for error-and-above records.
	ErrLogRotator *rotator.Rotator

	dagLog  = backendLog.Logger(SubsystemTags.DAG)
	pbftLog = backendLog.Logger(SubsystemTags.PBFT)
	voteLog = backendLog.Logger(SubsystemTags.VOTE)
	pilrLog = backendLog.Logger(SubsystemTags.PILR)
	netwLog = backendLog.Logger(SubsystemTags.NETW)
	syncLog = backendLog.Logger(SubsystemTags.SYNC)
	slshLog = backendLog.Logger(SubsystemTags.SLSH)
	txplLog = backendLog.Logger(SubsystemTags.TXPL)
	propLog = backendLog.Logger(SubsystemTags.PROP)
	nodeLog = backendLog.Logger(SubsystemTags.NODE)
	dbLog   = backendLog.Logger(SubsystemTags.BCDB)

	initiated = false
)

// SubsystemTags is an enum of all dagchain subsystem tags.
var SubsystemTags = struct {
	DAG,
	PBFT,
	VOTE,
	PILR,
	NETW,
	SYNC,
	SLSH,
	TXPL,
	PROP,
	NODE,
	BCDB string
}{
	DAG:  "DAG ",
	PBFT: "PBFT",
	VOTE: "VOTE",
	PILR: "PILR",
	NETW: "NETW",
	SYNC: "SYNC",
	SLSH: "SLSH",
	TXPL: "TXPL",
	PROP: "PROP",
	NODE: "NODE",
	BCDB: "BCDB",
}

var subsystemLoggers = map[string]*logs.Logger{
	SubsystemTags.DAG:  dagLog,
	SubsystemTags.PBFT: pbftLog,
	SubsystemTags.VOTE: voteLog,
	SubsystemTags.PILR: pilrLog,
	SubsystemTags.NETW: netwLog,
	SubsystemTags.SYNC: syncLog,
	SubsystemTags.SLSH: slshLog,
	SubsystemTags.TXPL: txplLog,
	SubsystemTags.PROP: propLog,
	SubsystemTags.NODE: nodeLog,
	SubsystemTags.BCDB: dbLog,
}

// InitLogRotators initializes the logging rotators to write logs to logFile
// and errLogFile, creating roll files alongside them. It must be called
// before any subsystem logger is used if file output is desired.
func InitLogRotators(logFile, errLogFile string) {
	initiated = true
	LogRotator = initLogRotator(logFile)
	ErrLogRotator = initLogRotator(errLogFile)
	backendLog.AddWriter(&stdoutAndRotator{rotator: LogRotator}, logs.LevelTrace)
	backendLog.AddWriter(&stdoutAndRotator{rotator: ErrLogRotator}, logs.LevelError)
}

func initLogRotator(logFile string) *rotator.Rotator {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	return r
}

// SetLogLevel sets the logging level for the given subsystem. Invalid
// subsystems are ignored.
func SetLogLevel(subsystemID string, level logs.Level) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(level logs.Level) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, level)
	}
}

// Get returns the logger of a specific subsystem.
func Get(tag string) (logger *logs.Logger, ok bool) {
	logger, ok = subsystemLoggers[tag]
	return
}

// SupportedSubsystems returns a sorted slice of the supported subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}
