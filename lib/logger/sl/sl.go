package sl

import (
	"log/slog"
)

func Err(err error) slog.Attr {
	return slog.Attr{
		Key:   "error",
		Value: slog.StringValue(errString(err)),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
