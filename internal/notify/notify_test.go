package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

func testDetails() model.Details {
	return model.Details{
		Degree:          model.DegreeMSc,
		Topic:           "Sparse attention",
		SupervisorName:  "Dr. Levi",
		SupervisorEmail: "levi@example.edu",
		PresenterEmail:  "dana@example.edu",
	}
}

func testSlot() SlotInfo {
	return SlotInfoFrom(model.Slot{
		ID:        "slot-1",
		Date:      time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		EndTime:   "15:30",
		Building:  "Engineering",
		Room:      "E-101",
	})
}

func TestLinks(t *testing.T) {
	t.Parallel()

	l := Links{BaseURL: "https://slots.example.edu/"}
	if got, want := l.Approve("abc_-1"), "https://slots.example.edu/approvals/abc_-1/approve"; got != want {
		t.Fatalf("approve = %q, want %q", got, want)
	}
	if got, want := l.Decline("abc"), "https://slots.example.edu/approvals/abc/decline"; got != want {
		t.Fatalf("decline = %q, want %q", got, want)
	}
}

func TestBatchFlushContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	rec := &Recorder{Err: errors.New("smtp down")}
	var b Batch
	b.ApprovalRequest(ApprovalRequest{PresenterID: "dana"})
	b.PromotionOffer(PromotionOffer{PresenterID: "erin"})
	if b.Len() != 2 {
		t.Fatalf("len = %d, want 2", b.Len())
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if failed := b.Flush(context.Background(), rec, logger); failed != 2 {
		t.Fatalf("failed = %d, want 2", failed)
	}
	if b.Len() != 0 {
		t.Fatalf("len after flush = %d, want 0", b.Len())
	}

	rec.Err = nil
	b.Decision(Decision{PresenterID: "dana", Status: model.StatusApproved})
	b.Reminder(Reminder{PresenterID: "dana"})
	if failed := b.Flush(context.Background(), rec, logger); failed != 0 {
		t.Fatalf("failed = %d, want 0", failed)
	}
	approvals, reminders, offers, decisions := rec.Counts()
	if approvals != 0 || reminders != 1 || offers != 0 || decisions != 1 {
		t.Fatalf("counts = %d/%d/%d/%d, want 0/1/0/1", approvals, reminders, offers, decisions)
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  []byte
}

func capture(out *[]capturedMail) SendFunc {
	return func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*out = append(*out, capturedMail{addr: addr, from: from, to: to, msg: msg})
		return nil
	}
}

func TestSMTPApprovalRequestCarriesQRCode(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	gw := NewSMTPGateway(SMTPConfig{Host: "mail.example.edu", Port: "2525", From: "seminars@example.edu"}, capture(&sent))

	err := gw.SendApprovalRequest(context.Background(), ApprovalRequest{
		PresenterID: "dana",
		Details:     testDetails(),
		Slot:        testSlot(),
		ApproveURL:  "https://slots.example.edu/approvals/tok/approve",
		DeclineURL:  "https://slots.example.edu/approvals/tok/decline",
		ExpiresAt:   time.Date(2026, time.March, 16, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(sent))
	}
	m := sent[0]
	if m.addr != "mail.example.edu:2525" {
		t.Fatalf("addr = %q", m.addr)
	}
	if len(m.to) != 1 || m.to[0] != "levi@example.edu" {
		t.Fatalf("to = %v, want supervisor", m.to)
	}
	body := string(m.msg)
	for _, want := range []string{
		"Dear Dr. Levi",
		"Approve: https://slots.example.edu/approvals/tok/approve",
		"Decline: https://slots.example.edu/approvals/tok/decline",
		"Content-Type: image/png",
		// base64 of the PNG signature
		"iVBORw0KGgo",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("message missing %q:\n%s", want, body)
		}
	}
}

func TestSMTPDecisionIncludesReasonWithoutQRCode(t *testing.T) {
	t.Parallel()

	var sent []capturedMail
	gw := NewSMTPGateway(SMTPConfig{Host: "localhost", Port: "25", From: "seminars@example.edu"}, capture(&sent))

	err := gw.SendDecision(context.Background(), Decision{
		PresenterID: "dana",
		Details:     testDetails(),
		Slot:        testSlot(),
		Status:      model.StatusDeclined,
		Reason:      "topic overlaps another talk",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	body := string(sent[0].msg)
	if !strings.Contains(body, "is now DECLINED") || !strings.Contains(body, "Reason: topic overlaps another talk") {
		t.Fatalf("unexpected body:\n%s", body)
	}
	if strings.Contains(body, "image/png") {
		t.Fatal("decision mail should not carry a QR code")
	}
}

func TestSMTPSendErrorIsReturned(t *testing.T) {
	t.Parallel()

	gw := NewSMTPGateway(SMTPConfig{Host: "localhost", Port: "25"}, func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	})
	err := gw.SendReminder(context.Background(), Reminder{PresenterID: "dana", Details: testDetails(), Slot: testSlot()})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("err = %v, want connection refused", err)
	}
}

func TestLogGateway(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	gw := NewLogGateway(slog.New(slog.NewTextHandler(&buf, nil)))
	if err := gw.SendPromotionOffer(context.Background(), PromotionOffer{PresenterID: "erin", Slot: testSlot()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), "promotion offer") || !strings.Contains(buf.String(), "presenter_id=erin") {
		t.Fatalf("unexpected log: %s", buf.String())
	}
}
