package orchestration

import "testing"

func TestMailboxKeepsArrivalOrder(t *testing.T) {
	m := newMailbox()

	for _, t2 := range []trigger{triggerHangup, triggerShutdown, triggerIdleCeiling} {
		if !m.Post(terminateMessage{trigger: t2}) {
			t.Fatalf("expected post to an open mailbox to succeed")
		}
	}

	select {
	case <-m.Signal():
	default:
		t.Fatalf("expected a pending signal")
	}

	drained := m.Drain()
	if len(drained) != 3 {
		t.Fatalf("expected three messages, got %d", len(drained))
	}
	if drained[0].(terminateMessage).trigger != triggerHangup || drained[2].(terminateMessage).trigger != triggerIdleCeiling {
		t.Fatalf("expected arrival order, got %+v", drained)
	}
	if m.Len() != 0 {
		t.Fatalf("expected drain to empty the mailbox")
	}
}

func TestMailboxRejectsPostsAfterClose(t *testing.T) {
	m := newMailbox()
	m.Post(issueSummaryMessage{summary: "login"})

	remaining := m.Close()
	if len(remaining) != 1 {
		t.Fatalf("expected close to return the queued message, got %d", len(remaining))
	}
	if m.Post(issueSummaryMessage{summary: "late"}) {
		t.Fatalf("expected posts after close to be rejected")
	}
}
