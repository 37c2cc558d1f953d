package testlog

import (
	"testing"

	logs "github.com/dp-web4/modbatt-CAN/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logs.ConfigureTests()
	logs.Infof("test=%s", t.Name())
}
