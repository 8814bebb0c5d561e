package db

import (
	"encoding/json"
	"testing"
)

func TestPoolStats_JSONShape(t *testing.T) {
	stats := &PoolStats{
		TotalConns:      10,
		IdleConns:       4,
		AcquiredConns:   6,
		MaxConns:        20,
		AcquireCount:    321,
		AcquireDuration: "250ms",
		Healthy:         true,
	}

	blob, err := json.Marshal(stats)
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(blob, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"total_conns", "idle_conns", "acquired_conns", "max_conns", "acquire_count", "acquire_duration", "healthy"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("health payload missing %q", key)
		}
	}
	if decoded["healthy"] != true {
		t.Errorf("healthy = %v", decoded["healthy"])
	}
	if decoded["acquired_conns"] != float64(6) {
		t.Errorf("acquired_conns = %v", decoded["acquired_conns"])
	}
}
