package main

import (
	"os"

	"github.com/btcsuite/btclog"

	"github.com/strawpay/stroem-consumerj/channelstore"
	"github.com/strawpay/stroem-consumerj/issuer"
	"github.com/strawpay/stroem-consumerj/merchant"
	"github.com/strawpay/stroem-consumerj/note"
)

var (
	backendLog = btclog.NewBackend(os.Stderr)

	issrLog = backendLog.Logger("ISSR")
	noteLog = backendLog.Logger("NOTE")
	chstLog = backendLog.Logger("CHST")
	mrchLog = backendLog.Logger("MRCH")
)

// subsystemLoggers maps each subsystem identifier to its associated logger.
var subsystemLoggers = map[string]btclog.Logger{
	"ISSR": issrLog,
	"NOTE": noteLog,
	"CHST": chstLog,
	"MRCH": mrchLog,
}

func init() {
	issuer.UseLogger(issrLog)
	note.UseLogger(noteLog)
	channelstore.UseLogger(chstLog)
	merchant.UseLogger(mrchLog)
}

// setLogLevels sets the level of every subsystem. An invalid level is an
// error rather than a silent default.
func setLogLevels(logLevel string) error {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		return errInvalidLogLevel(logLevel)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
	return nil
}

type errInvalidLogLevel string

func (e errInvalidLogLevel) Error() string {
	return "invalid log level " + string(e)
}
