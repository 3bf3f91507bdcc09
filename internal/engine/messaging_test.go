package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/lodestar-dev/lodestar/internal/protocol"
	"github.com/lodestar-dev/lodestar/internal/storage"
)

func (e *testEnv) send(from, toType, toID, body string) *storage.Message {
	e.t.Helper()
	res, err := e.Engine.SendMessage(e.Ctx, SendArgs{
		FromAgentID: from, ToType: toType, ToID: toID, Body: body,
	})
	if err != nil {
		e.t.Fatalf("SendMessage(%s -> %s %s) failed: %v", from, toType, toID, err)
	}
	return res.Message
}

func TestSendToAgentInbox(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "reviewer")

	msg := e.send(alice, storage.RecipientAgent, bob, "parser is done, please review")
	if msg.MessageID == 0 {
		t.Error("send should assign a message id")
	}
	if msg.Severity != storage.SeverityInfo {
		t.Errorf("severity %q, want the info default", msg.Severity)
	}

	e.send(alice, storage.RecipientAgent, bob, "second note")

	inbox, err := e.Engine.Inbox(e.Ctx, InboxArgs{AgentID: bob})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if inbox.Count != 2 {
		t.Fatalf("inbox has %d messages, want 2", inbox.Count)
	}
	// Newest first.
	if inbox.Messages[0].Body != "second note" {
		t.Errorf("inbox order: first is %q", inbox.Messages[0].Body)
	}
	if inbox.Messages[0].Severity != storage.SeverityInfo {
		t.Errorf("stored severity %q, want info", inbox.Messages[0].Severity)
	}

	// The sender's inbox is untouched.
	own, err := e.Engine.Inbox(e.Ctx, InboxArgs{AgentID: alice})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if own.Count != 0 {
		t.Errorf("sender inbox has %d messages, want 0", own.Count)
	}

	events := e.Events(storage.EventMessageSent)
	if len(events) != 2 {
		t.Fatalf("got %d message.sent events, want 2", len(events))
	}
	if events[0].TargetAgentID != bob || events[0].ActorAgentID != alice {
		t.Errorf("message.sent actor/target %s/%s", events[0].ActorAgentID, events[0].TargetAgentID)
	}
}

func TestSendRejectsUnknownAgentRecipient(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")

	_, err := e.Engine.SendMessage(e.Ctx, SendArgs{
		FromAgentID: alice, ToType: storage.RecipientAgent, ToID: "ghost", Body: "hello?",
	})
	perr := wantCode(t, err, protocol.CodeMessageRecipientInvalid)
	if perr.Details["to_id"] != "ghost" {
		t.Errorf("details %v", perr.Details)
	}

	// Task threads carry no such check: context may be attached to work
	// that is not in the spec yet.
	msg := e.send(alice, storage.RecipientTask, "t-not-yet-created", "design notes")
	if msg.TaskID != "t-not-yet-created" {
		t.Errorf("task-addressed message should carry the thread id, got %q", msg.TaskID)
	}
}

func TestSendValidatesInput(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")

	_, err := e.Engine.SendMessage(e.Ctx, SendArgs{
		FromAgentID: "ghost", ToType: storage.RecipientAgent, ToID: alice, Body: "x",
	})
	wantCode(t, err, protocol.CodeAgentNotRegistered)

	cases := []SendArgs{
		{FromAgentID: alice, ToType: "broadcast", ToID: alice, Body: "x"},
		{FromAgentID: alice, ToType: storage.RecipientAgent, Body: "x"},
		{FromAgentID: alice, ToType: storage.RecipientAgent, ToID: alice},
		{FromAgentID: alice, ToType: storage.RecipientAgent, ToID: alice, Body: "x", Severity: "urgent"},
	}
	for _, args := range cases {
		_, err := e.Engine.SendMessage(e.Ctx, args)
		wantCode(t, err, protocol.CodeInvalidInput)
	}
}

func TestSendRejectsOversizeBody(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "reviewer")

	_, err := e.Engine.SendMessage(e.Ctx, SendArgs{
		FromAgentID: alice, ToType: storage.RecipientAgent, ToID: bob,
		Body: strings.Repeat("x", storage.MaxBodyBytes+1),
	})
	perr := wantCode(t, err, protocol.CodeMessageTooLarge)
	if perr.Details["max_bytes"] != storage.MaxBodyBytes {
		t.Errorf("details %v", perr.Details)
	}

	// Exactly at the limit is fine.
	e.send(alice, storage.RecipientAgent, bob, strings.Repeat("x", storage.MaxBodyBytes))
}

func TestInboxMarkReadIsTransactionalWithTheRead(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "reviewer")
	e.send(alice, storage.RecipientAgent, bob, "one")
	e.send(alice, storage.RecipientAgent, bob, "two")

	res, err := e.Engine.Inbox(e.Ctx, InboxArgs{AgentID: bob, UnreadOnly: true, MarkRead: true})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if res.Count != 2 || res.MarkedRead != 2 {
		t.Fatalf("count=%d marked=%d, want 2/2", res.Count, res.MarkedRead)
	}
	for _, msg := range res.Messages {
		if msg.ReadAt == "" {
			t.Errorf("message %d returned unstamped", msg.MessageID)
		}
	}

	if len(e.Events(storage.EventMessageRead)) != 2 {
		t.Error("each mark-read should append message.read")
	}

	// Nothing unread remains; a second pass marks nothing.
	res, err = e.Engine.Inbox(e.Ctx, InboxArgs{AgentID: bob, UnreadOnly: true, MarkRead: true})
	if err != nil {
		t.Fatalf("Inbox failed: %v", err)
	}
	if res.Count != 0 || res.MarkedRead != 0 {
		t.Errorf("second pass count=%d marked=%d, want 0/0", res.Count, res.MarkedRead)
	}
}

func TestThreadIsAscendingAndSpecIndependent(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	e.send(alice, storage.RecipientTask, "t-api", "first")
	e.Clock.Advance(time.Minute)
	e.send(alice, storage.RecipientTask, "t-api", "second")

	res, err := e.Engine.Thread(e.Ctx, "t-api", "", 0)
	if err != nil {
		t.Fatalf("Thread failed: %v", err)
	}
	if res.Count != 2 || res.Messages[0].Body != "first" {
		t.Fatalf("thread order wrong: %+v", res.Messages)
	}

	// since narrows to the tail of the conversation.
	res, err = e.Engine.Thread(e.Ctx, "t-api", e.Now(), 0)
	if err != nil {
		t.Fatalf("Thread failed: %v", err)
	}
	if res.Count != 1 || res.Messages[0].Body != "second" {
		t.Errorf("since filter returned %+v", res.Messages)
	}

	_, err = e.Engine.Thread(e.Ctx, "", "", 0)
	wantCode(t, err, protocol.CodeInvalidInput)
	_, err = e.Engine.Thread(e.Ctx, "t-api", "yesterday", 0)
	wantCode(t, err, protocol.CodeInvalidInput)
}

func TestSearchMessages(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "reviewer")
	e.send(alice, storage.RecipientAgent, bob, "the parser chokes on unicode")
	e.send(bob, storage.RecipientAgent, alice, "fixed in the latest commit")

	res, err := e.Engine.SearchMessages(e.Ctx, SearchArgs{Keyword: "PARSER"})
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if res.Count != 1 || res.Messages[0].FromAgentID != alice {
		t.Errorf("keyword search returned %+v", res.Messages)
	}

	res, err = e.Engine.SearchMessages(e.Ctx, SearchArgs{FromAgentID: bob})
	if err != nil {
		t.Fatalf("SearchMessages failed: %v", err)
	}
	if res.Count != 1 || res.Messages[0].Body != "fixed in the latest commit" {
		t.Errorf("from search returned %+v", res.Messages)
	}

	_, err = e.Engine.SearchMessages(e.Ctx, SearchArgs{})
	wantCode(t, err, protocol.CodeInvalidInput)
}

func TestAckIsAddresseeOnlyAndIdempotent(t *testing.T) {
	e := newTestEnv(t)
	alice := e.Join("alice", "implementer")
	bob := e.Join("bob", "reviewer")
	msg := e.send(alice, storage.RecipientAgent, bob, "please ack")

	_, err := e.Engine.Ack(e.Ctx, alice, msg.MessageID)
	wantCode(t, err, protocol.CodeMessageRecipientInvalid)

	first, err := e.Engine.Ack(e.Ctx, bob, msg.MessageID)
	if err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	if first.ReadAt != e.Now() {
		t.Errorf("read_at %s, want %s", first.ReadAt, e.Now())
	}

	// Re-acking later returns the original stamp and logs nothing new.
	e.Clock.Advance(time.Hour)
	again, err := e.Engine.Ack(e.Ctx, bob, msg.MessageID)
	if err != nil {
		t.Fatalf("repeat Ack failed: %v", err)
	}
	if again.ReadAt != first.ReadAt {
		t.Errorf("repeat ack moved read_at %s -> %s", first.ReadAt, again.ReadAt)
	}
	if n := len(e.Events(storage.EventMessageRead)); n != 1 {
		t.Errorf("got %d message.read events, want 1", n)
	}

	_, err = e.Engine.Ack(e.Ctx, bob, 9999)
	wantCode(t, err, protocol.CodeInvalidInput)
}
