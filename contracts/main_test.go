package contracts

import (
	"testing"

	"go.uber.org/goleak"
)

// The ledger, pools and risk engine run synchronously; nothing may outlive a test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
