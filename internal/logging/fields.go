package logging

import (
	"log/slog"

	"github.com/google/uuid"
)

func Conversation(id uuid.UUID) slog.Attr {
	return slog.String("conversation_id", id.String())
}

func User(id uuid.UUID) slog.Attr {
	return slog.String("user_id", id.String())
}

func Message(id uuid.UUID) slog.Attr {
	return slog.String("message_id", id.String())
}

func Screen(kind string) slog.Attr {
	return slog.String("screen", kind)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
