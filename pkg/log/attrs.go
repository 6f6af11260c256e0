package log

import "log/slog"

func RunID[T ~string](id T) slog.Attr {
	return slog.String("run_id", string(id))
}

func NodeID[T ~string](id T) slog.Attr {
	return slog.String("node_id", string(id))
}

func Target[T ~string](id T) slog.Attr {
	return slog.String("next_node_id", string(id))
}

func Action[T ~string](action T) slog.Attr {
	return slog.String("action", string(action))
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Item(idx int) slog.Attr {
	return slog.Int("item", idx)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
