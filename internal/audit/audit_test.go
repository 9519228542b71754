package audit

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/hostfleet/orchestrator/internal/store/storetest"
)

func TestRecordAppendsToStore(t *testing.T) {
	s := storetest.New()
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := New(log, s.Audit)

	r.Record(context.Background(), "install", "srv-1", "postgres", "dep-1", true, "installed successfully")

	rows, err := s.Audit.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("len(rows) = %d, want 1", len(rows))
	}
	if rows[0].Action != "install" || !rows[0].Success {
		t.Errorf("unexpected record: %+v", rows[0])
	}
}
