package hardware

import (
	"os"
	"testing"

	"github.com/satbench/attitude.station/internal/monitoring"
)

// Mute the diagnostic logger: the soft-failure tests exercise reconnect and
// revival paths that would otherwise spam the test output.
func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}
