package store_test

import (
	"context"
	"testing"

	"hhsetl/internal/store"
)

func boolPtr(b bool) *bool { return &b }

func TestAuditTrail_InsertAndQuery(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	events := []store.AuditEvent{
		{
			Timestamp: "2026-01-01T10:00:00Z",
			Username:  "alice",
			Action:    "login",
			Category:  store.AuditCategoryAuthentication,
			Success:   true,
			IPAddress: strPtr("10.0.0.5"),
		},
		{
			Timestamp:    "2026-01-02T10:00:00Z",
			Username:     "mallory",
			Action:       "login",
			Category:     store.AuditCategoryAuthentication,
			Success:      false,
			IPAddress:    strPtr("10.0.0.5"),
			ErrorMessage: strPtr("密码错误"),
		},
		{
			Timestamp: "2026-01-03T10:00:00Z",
			Username:  "system",
			Action:    "etl_run",
			Category:  store.AuditCategoryETL,
			Success:   true,
		},
	}
	for i, ev := range events {
		if err := st.InsertAuditEvent(ctx, ev); err != nil {
			t.Fatalf("InsertAuditEvent #%d: %v", i, err)
		}
	}

	if err := st.InsertAuditEvent(ctx, store.AuditEvent{Username: "alice"}); err == nil {
		t.Fatalf("expected error for missing action")
	}

	auth, err := st.QueryAuditEvents(ctx, store.AuditFilter{Category: store.AuditCategoryAuthentication})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(auth) != 2 {
		t.Fatalf("auth events = %d, want 2", len(auth))
	}
	// 时间倒序，最新一条在前。
	if auth[0].Username != "mallory" || auth[1].Username != "alice" {
		t.Fatalf("order mismatch: %s, %s", auth[0].Username, auth[1].Username)
	}

	failures, err := st.QueryAuditEvents(ctx, store.AuditFilter{Success: boolPtr(false)})
	if err != nil {
		t.Fatalf("QueryAuditEvents(failed): %v", err)
	}
	if len(failures) != 1 || failures[0].Username != "mallory" || failures[0].ErrorMessage == nil {
		t.Fatalf("failures = %+v", failures)
	}

	n, err := st.CountAuditEvents(ctx, store.AuditFilter{Since: "2026-01-02T00:00:00Z"})
	if err != nil || n != 2 {
		t.Fatalf("CountAuditEvents = %d, %v; want 2", n, err)
	}

	summary, err := st.AuditCategorySummary(ctx, "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("AuditCategorySummary: %v", err)
	}
	if summary[store.AuditCategoryAuthentication] != 2 || summary[store.AuditCategoryETL] != 1 {
		t.Fatalf("summary = %v", summary)
	}

	failed, err := st.RecentFailedLogins(ctx, "10.0.0.5", "2026-01-01T00:00:00Z")
	if err != nil || failed != 1 {
		t.Fatalf("RecentFailedLogins = %d, %v; want 1", failed, err)
	}

	removed, err := st.DeleteAuditEventsBefore(ctx, "2026-01-03T00:00:00Z")
	if err != nil || removed != 2 {
		t.Fatalf("DeleteAuditEventsBefore = %d, %v; want 2", removed, err)
	}
	total, err := st.CountAuditEvents(ctx, store.AuditFilter{})
	if err != nil || total != 1 {
		t.Fatalf("remaining events = %d, %v; want 1", total, err)
	}
}
