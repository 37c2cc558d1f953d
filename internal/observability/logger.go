package observability

import (
	"github.com/rs/zerolog"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
)

// InitLogger returns the process logger tagged with the app name.
func InitLogger(app string) zerolog.Logger {
	return logs.Logger().With().Str("app", app).Logger()
}
