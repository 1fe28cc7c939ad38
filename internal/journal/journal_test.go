package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/agentmesh/go-transcript/internal/bus"
)

// Journal 必须可作为总线降级存储。
var _ bus.FallbackStore = (*Journal)(nil)

func TestNullableJSON(t *testing.T) {
	if got := nullableJSON(nil); got != nil {
		t.Errorf("nullableJSON(nil) = %v, want nil", got)
	}
	if got := nullableJSON(json.RawMessage(``)); got != nil {
		t.Errorf("nullableJSON(empty) = %v, want nil", got)
	}
	if got := nullableJSON(json.RawMessage(`{"a":1}`)); got != `{"a":1}` {
		t.Errorf("nullableJSON = %v", got)
	}
}

func TestTimestampOrNow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := timestampOrNow(fixed); !got.Equal(fixed) {
		t.Errorf("timestampOrNow(fixed) = %v", got)
	}
	if got := timestampOrNow(time.Time{}); got.IsZero() {
		t.Error("timestampOrNow(zero) returned zero time")
	}
}
