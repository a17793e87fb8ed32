package plain

import (
	"log"
	"os"
)

type Logger interface {
	Printf(format string, args ...interface{})
}

var defaultLogger = Logger(log.New(os.Stderr, "", log.LstdFlags))

// DefaultLogger is the stderr logger used when no option overrides it.
func DefaultLogger() Logger {
	return defaultLogger
}

func sniffErrorAndLog(logger Logger, err error) {
	if err != nil {
		logger.Printf("%v\n", err)
	}
}
