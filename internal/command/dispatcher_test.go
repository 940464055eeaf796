package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/duel-chess-bot/internal/domain"
	"github.com/park285/duel-chess-bot/internal/match"
	"github.com/park285/duel-chess-bot/internal/store"
	"github.com/park285/duel-chess-bot/internal/transport"
	"github.com/park285/duel-chess-bot/internal/transport/transporttest"
)

type stubRenderer struct{}

func (stubRenderer) Render(ctx context.Context, fen string, perspective domain.Side, highlight string) ([]byte, error) {
	return []byte(highlight), nil
}

var epoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	ctx   context.Context
	store *store.Memory
	tr    *transporttest.Recorder
	disp  *Dispatcher
	clock time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, ctx: context.Background(), store: store.NewMemory(), tr: transporttest.New(), clock: epoch}
	now := func() time.Time { return h.clock }
	mgr := match.New(match.Deps{
		Store:     h.store,
		Renderer:  stubRenderer{},
		Transport: h.tr,
		Now:       now,
		NewID:     func() string { return "match-1" },
	})
	h.disp = New(Deps{Store: h.store, Matches: mgr, Transport: h.tr, AdminPass: "hunter2", Now: now})
	return h
}

const (
	paul  int64 = 1
	quinn int64 = 2
)

var names = map[int64]string{paul: "paul", quinn: "quinn"}

func chat(id int64) int64 { return id * 100 }

func (h *harness) send(id int64, text string) {
	h.t.Helper()
	ev := transport.Event{UserID: id, ChatID: chat(id), Username: names[id], Text: text}
	if err := h.disp.HandleEvent(h.ctx, ev); err != nil {
		h.t.Fatalf("HandleEvent(%d, %q): %v", id, text, err)
	}
}

func (h *harness) press(id int64, data string, interactionID int) {
	h.t.Helper()
	ev := transport.Event{UserID: id, ChatID: chat(id), Username: names[id], Text: data, InteractionID: interactionID, CallbackID: "cb-" + data}
	if err := h.disp.HandleEvent(h.ctx, ev); err != nil {
		h.t.Fatalf("HandleEvent(%d, press %q): %v", id, data, err)
	}
}

func (h *harness) user(id int64) *domain.User {
	h.t.Helper()
	u, err := h.store.GetUser(h.ctx, id)
	if err != nil || u == nil {
		h.t.Fatalf("GetUser(%d): %v %v", id, u, err)
	}
	return u
}

func (h *harness) lastText(id int64) string {
	h.t.Helper()
	texts := h.tr.Texts(chat(id))
	if len(texts) == 0 {
		h.t.Fatalf("no text sent to %d", id)
	}
	return texts[len(texts)-1]
}

// propose runs the full /new flow from paul to quinn.
func (h *harness) propose() {
	h.t.Helper()
	h.send(quinn, "/start")
	h.send(paul, "/new")
	h.send(paul, "10 Minutes")
	h.send(paul, "quinn")
}

func (h *harness) startGame() {
	h.t.Helper()
	h.propose()
	h.press(quinn, "/accept", 41)
	h.tr.Reset()
}

func (h *harness) setPosition(fen string) {
	h.t.Helper()
	if _, err := h.store.UpdateMatch(h.ctx, "match-1", func(m *domain.Match) error {
		m.Position = fen
		return nil
	}); err != nil {
		h.t.Fatalf("UpdateMatch: %v", err)
	}
}

func TestRegisterCreatesAndRenames(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/start")
	u := h.user(paul)
	if u.Name != "paul" || u.ChatID != chat(paul) || !u.SignUpAt.Equal(epoch) || u.Status != domain.StatusIdle {
		t.Fatalf("created user: %+v", u)
	}
	if !strings.HasPrefix(h.lastText(paul), "Welcome to Chess Duel Bot!") {
		t.Fatalf("start text: %q", h.lastText(paul))
	}
	h.clock = epoch.Add(time.Hour)
	names[paul] = "paulo"
	defer func() { names[paul] = "paul" }()
	h.send(paul, "/help")
	u = h.user(paul)
	if u.Name != "paulo" || !u.LastActivityAt.Equal(h.clock) || !u.SignUpAt.Equal(epoch) {
		t.Fatalf("touched user: %+v", u)
	}
	if found, _ := h.store.UsersByName(h.ctx, "paulo"); len(found) != 1 {
		t.Fatalf("rename not indexed")
	}
}

func TestNoUsernameRejected(t *testing.T) {
	h := newHarness(t)
	if err := h.disp.HandleEvent(h.ctx, transport.Event{UserID: 9, ChatID: 900, Text: "/start"}); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if u, _ := h.store.GetUser(h.ctx, 9); u != nil {
		t.Fatalf("user without username was stored")
	}
	if !h.tr.Saw(900, "you must set a Telegram username") {
		t.Fatalf("notice missing: %v", h.tr.Texts(900))
	}
}

func TestNewFlowParksEachStep(t *testing.T) {
	h := newHarness(t)
	h.send(quinn, "/start")
	h.send(paul, "/new")
	if got := h.user(paul).PendingCommand; got != "new" {
		t.Fatalf("pending after /new = %q", got)
	}
	last, _ := h.tr.Last(chat(paul))
	kb, ok := last.Opts.Markup.(transport.ChoiceKeyboard)
	if !ok || len(kb.Options) != len(match.Timeouts) || kb.Options[0] != "10 Minutes" {
		t.Fatalf("timeout keyboard: %#v", last.Opts.Markup)
	}

	h.send(paul, "10 Minutes")
	u := h.user(paul)
	if u.PendingCommand != "new.adversary" || u.PendingArg != "600" {
		t.Fatalf("after timeout: pending=%q arg=%q", u.PendingCommand, u.PendingArg)
	}
	if h.lastText(paul) != "Please enter the username of your adversary." {
		t.Fatalf("adversary prompt: %q", h.lastText(paul))
	}

	h.send(paul, "quinn")
	p, q := h.user(paul), h.user(quinn)
	if p.PendingCommand != "" || p.PendingArg != "" {
		t.Fatalf("proposer still parked: %+v", p)
	}
	if p.Status != domain.StatusPending || q.Status != domain.StatusRequested {
		t.Fatalf("statuses: %v %v", p.Status, q.Status)
	}
	if len(q.RecentAdversaries) != 0 || len(p.RecentAdversaries) != 1 || p.RecentAdversaries[0] != "quinn" {
		t.Fatalf("recent: p=%v q=%v", p.RecentAdversaries, q.RecentAdversaries)
	}
	mt, _ := h.store.GetMatch(h.ctx, p.MatchID)
	if mt == nil || mt.Timeout != 10*time.Minute {
		t.Fatalf("match: %+v", mt)
	}

	// The recent adversary is offered next time.
	h.send(paul, "/cancel")
	h.send(paul, "/new")
	h.send(paul, "1 Hour")
	last, _ = h.tr.Last(chat(paul))
	if kb, ok := last.Opts.Markup.(transport.ChoiceKeyboard); !ok || kb.Options[0] != "quinn" {
		t.Fatalf("recent keyboard: %#v", last.Opts.Markup)
	}
}

func TestBadTimeoutIsNotParked(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/new")
	h.send(paul, "3 Minutes")
	if h.lastText(paul) != "Invalid timeout!" || h.user(paul).PendingCommand != "" {
		t.Fatalf("bad timeout: %q pending=%q", h.lastText(paul), h.user(paul).PendingCommand)
	}
}

func TestRefuseResetsBoth(t *testing.T) {
	h := newHarness(t)
	h.propose()
	h.press(quinn, "/refuse", 7)
	if mt, _ := h.store.GetMatch(h.ctx, "match-1"); mt != nil {
		t.Fatalf("match survived refusal")
	}
	for _, id := range []int64{paul, quinn} {
		u := h.user(id)
		if u.Status != domain.StatusIdle || u.MatchID != "" || u.AdversaryID != 0 {
			t.Fatalf("user %d not reset: %+v", id, u)
		}
	}
	if r := h.tr.Retracted(); len(r) != 1 || r[0].InteractionID != 7 {
		t.Fatalf("button not retracted: %+v", r)
	}
	if a := h.tr.Answered(); len(a) == 0 || a[len(a)-1] != "cb-/refuse" {
		t.Fatalf("callback not answered: %v", a)
	}
}

func TestAcceptStartsGame(t *testing.T) {
	h := newHarness(t)
	h.propose()
	h.clock = epoch.Add(2 * time.Minute)
	h.press(quinn, "/accept", 41)
	p, q := h.user(paul), h.user(quinn)
	if p.Status != domain.StatusPlaying || q.Status != domain.StatusPlaying {
		t.Fatalf("statuses: %v %v", p.Status, q.Status)
	}
	mt, _ := h.store.GetMatch(h.ctx, "match-1")
	if mt.LastMoveAt == nil || !mt.LastMoveAt.Equal(h.clock) {
		t.Fatalf("last move at %v", mt.LastMoveAt)
	}
	if h.lastText(quinn) != "It's your turn!" || h.lastText(paul) != "It's quinn turn..." {
		t.Fatalf("turn notices: %q / %q", h.lastText(quinn), h.lastText(paul))
	}
}

func TestMoveConfirmCheckmate(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	fen := "rnbqkbnr/pppp1ppp/8/4p3/6P1/5P2/PPPPP2P/RNBQKBNR b KQkq g3 0 2"
	h.setPosition(fen)

	h.send(paul, "/move")
	if h.user(paul).PendingCommand != "move" {
		t.Fatalf("not parked on move")
	}
	h.send(paul, "D8H4")
	u := h.user(paul)
	if u.PendingCommand != "move.confirm" || u.PendingArg != "d8h4|"+fen {
		t.Fatalf("confirm state: pending=%q arg=%q", u.PendingCommand, u.PendingArg)
	}
	last, _ := h.tr.Last(chat(paul))
	if !last.IsImage() || string(last.Image) != "d8h4" {
		t.Fatalf("preview not sent: %+v", last)
	}
	if mt, _ := h.store.GetMatch(h.ctx, "match-1"); mt.Position != fen {
		t.Fatalf("preview mutated the match")
	}

	h.press(paul, "/accept", 90)
	if mt, _ := h.store.GetMatch(h.ctx, "match-1"); mt != nil {
		t.Fatalf("match not deleted after checkmate")
	}
	p, q := h.user(paul), h.user(quinn)
	if p.Wins != 1 || q.Losses != 1 {
		t.Fatalf("counters: p=%d/%d q=%d/%d", p.Wins, p.Losses, q.Wins, q.Losses)
	}
	if p.Status != domain.StatusIdle || q.Status != domain.StatusIdle || p.PendingCommand != "" || p.MatchID != "" || q.MatchID != "" {
		t.Fatalf("users not reset: p=%+v q=%+v", p, q)
	}
	if r := h.tr.Retracted(); len(r) == 0 || r[len(r)-1].InteractionID != 90 {
		t.Fatalf("preview buttons not retracted: %+v", r)
	}
}

func TestMoveRejectionReparks(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(quinn, "/move")
	h.send(quinn, "e2e5")
	if h.lastText(quinn) != "You can't do this move!" || h.user(quinn).PendingCommand != "move" {
		t.Fatalf("illegal move: %q pending=%q", h.lastText(quinn), h.user(quinn).PendingCommand)
	}
	h.send(quinn, "hello")
	if h.lastText(quinn) != "Sorry, I don't understand this move!" || h.user(quinn).PendingCommand != "move" {
		t.Fatalf("unknown move: %q", h.lastText(quinn))
	}
	h.send(quinn, "/cancel")
	if h.lastText(quinn) != "Move cancelled." || h.user(quinn).PendingCommand != "" {
		t.Fatalf("cancel: %q", h.lastText(quinn))
	}
}

func TestMoveConfirmCancelAndReprompt(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(quinn, "/move")
	h.send(quinn, "e2e4")
	h.send(quinn, "maybe")
	if h.lastText(quinn) != "Please confirm or cancel the move." || h.user(quinn).PendingCommand != "move.confirm" {
		t.Fatalf("reprompt: %q pending=%q", h.lastText(quinn), h.user(quinn).PendingCommand)
	}
	images := h.tr.Images(chat(quinn))
	h.press(quinn, "/cancel", 5)
	if h.user(quinn).PendingCommand != "" || h.tr.Images(chat(quinn)) != images+1 {
		t.Fatalf("cancel should show the board and clear pending")
	}
	if mt, _ := h.store.GetMatch(h.ctx, "match-1"); mt.Position != domain.StartPosition {
		t.Fatalf("cancelled move was applied")
	}
}

func TestMoveConfirmDetectsChangedBoard(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(quinn, "/move")
	h.send(quinn, "e2e4")
	h.setPosition("rnbqkbnr/pppppppp/8/8/8/5N2/PPPPPPPP/RNBQKB1R w KQkq - 1 1")
	h.press(quinn, "/accept", 6)
	if !h.tr.Saw(chat(quinn), "The board changed since the preview") {
		t.Fatalf("conflict not reported: %v", h.tr.Texts(chat(quinn)))
	}
	if mt, _ := h.store.GetMatch(h.ctx, "match-1"); mt.LastMoveCode != "" {
		t.Fatalf("move applied on a changed board")
	}
}

func TestTypedMoveWhilePlaying(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(paul, "e7e5")
	if h.lastText(paul) != "It's not your turn!" {
		t.Fatalf("turn guard: %q", h.lastText(paul))
	}
	h.send(quinn, "e2e4")
	mt, _ := h.store.GetMatch(h.ctx, "match-1")
	if mt.LastMoveCode != "e2e4" {
		t.Fatalf("typed move not applied: %+v", mt)
	}
	if h.lastText(paul) != "It's your turn!" {
		t.Fatalf("black not told: %q", h.lastText(paul))
	}
	h.send(paul, "/move")
	if h.user(paul).PendingCommand != "move" || h.lastText(paul) != "Please enter your move, or /cancel." {
		t.Fatalf("move prompt: %q", h.lastText(paul))
	}
	h.send(quinn, "/move")
	if h.user(quinn).PendingCommand != "" {
		t.Fatalf("off-turn /move must not park")
	}
}

func TestEmptyTextClearsPending(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/new")
	sent := len(h.tr.Messages(chat(paul)))
	h.send(paul, "   ")
	if h.user(paul).PendingCommand != "" {
		t.Fatalf("pending not cleared")
	}
	if len(h.tr.Messages(chat(paul))) != sent {
		t.Fatalf("empty text must not produce output")
	}
}

func TestUnknownCommandsClearPending(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/bogus")
	if h.lastText(paul) != "Unknown command!" || h.user(paul).PendingCommand != "" {
		t.Fatalf("unknown command: %q", h.lastText(paul))
	}
	h.send(paul, "/new.adversary")
	if h.lastText(paul) != "Unknown command!" {
		t.Fatalf("internal step reachable by name: %q", h.lastText(paul))
	}
	if _, err := h.store.UpdateUser(h.ctx, paul, func(u *domain.User) error {
		u.PendingCommand = "ghost"
		return nil
	}); err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	h.send(paul, "anything")
	if h.lastText(paul) != "Unknown command!" || h.user(paul).PendingCommand != "" {
		t.Fatalf("unknown parked command: %q pending=%q", h.lastText(paul), h.user(paul).PendingCommand)
	}
}

func TestStatusGate(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/accept")
	if h.lastText(paul) != "Invalid command!" {
		t.Fatalf("gate: %q", h.lastText(paul))
	}
	h.send(paul, "/board@DuelChessBot")
	if h.lastText(paul) != "Invalid command!" {
		t.Fatalf("gate with bot suffix: %q", h.lastText(paul))
	}
	h.send(paul, "hello")
	if h.lastText(paul) != "Unknown input. Do you need /help?" {
		t.Fatalf("idle text: %q", h.lastText(paul))
	}

	u := h.user(paul)
	for _, cmd := range commandTable() {
		if Admit(cmd, u) != Admit(cmd, u) {
			t.Fatalf("gate for %s not stable", cmd.Name)
		}
	}
	accept := h.disp.commands["accept"]
	if Admit(accept, u) != GateStatus || Admit(h.disp.commands["info"], u) != GateOpen || Admit(h.disp.commands["stats"], u) != GateAdmin {
		t.Fatalf("unexpected gate verdicts")
	}
}

func TestChatRelayAndMute(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(quinn, "/chat")
	if h.user(quinn).PendingCommand != "chat" {
		t.Fatalf("chat not parked")
	}
	h.send(quinn, "good luck")
	if h.lastText(paul) != "_quinn says:_\ngood luck" || h.lastText(quinn) != "Message sent to paul!" {
		t.Fatalf("relay: %q / %q", h.lastText(paul), h.lastText(quinn))
	}

	h.send(paul, "/silence")
	if !h.user(paul).Muted || h.lastText(quinn) != "paul has silenced the chat!" {
		t.Fatalf("silence: muted=%v quinn=%q", h.user(paul).Muted, h.lastText(quinn))
	}
	h.send(paul, "/silence")
	if h.lastText(paul) != "Chat is already silent!" {
		t.Fatalf("double silence: %q", h.lastText(paul))
	}
	h.send(quinn, "/chat")
	if h.lastText(quinn) != "paul doesn't want to be bothered." || h.user(quinn).PendingCommand != "" {
		t.Fatalf("muted adversary: %q", h.lastText(quinn))
	}
	h.send(paul, "/unsilence")
	if h.user(paul).Muted || h.lastText(quinn) != "paul has unsilenced the chat!" {
		t.Fatalf("unsilence")
	}
}

func TestAdminPromotionAndStats(t *testing.T) {
	h := newHarness(t)
	h.send(paul, "/stats")
	if h.lastText(paul) != "You must be admin to run thim command!" {
		t.Fatalf("stats gate: %q", h.lastText(paul))
	}
	h.send(paul, "/admin")
	h.send(paul, "letmein")
	if h.user(paul).Admin || h.lastText(paul) != "Wrong password!" {
		t.Fatalf("wrong password accepted")
	}
	h.send(paul, "/admin")
	h.send(paul, "hunter2")
	if !h.user(paul).Admin || h.lastText(paul) != "User promoted to admin!" {
		t.Fatalf("promotion failed: %q", h.lastText(paul))
	}
	h.send(paul, "/admin")
	if h.lastText(paul) != "You are already an admin!" || h.user(paul).PendingCommand != "" {
		t.Fatalf("already admin: %q", h.lastText(paul))
	}
	h.send(quinn, "/start")
	h.send(paul, "/stats")
	if !strings.Contains(h.lastText(paul), "Users: _2_") {
		t.Fatalf("stats: %q", h.lastText(paul))
	}
}

func TestStopFromChat(t *testing.T) {
	h := newHarness(t)
	h.startGame()
	h.send(paul, "/stop")
	p, q := h.user(paul), h.user(quinn)
	if p.Losses != 1 || q.Wins != 1 || p.Status != domain.StatusIdle || q.Status != domain.StatusIdle {
		t.Fatalf("stop: p=%+v q=%+v", p, q)
	}
	if h.lastText(paul) != "Game cancelled" {
		t.Fatalf("stop notice: %q", h.lastText(paul))
	}
}

func TestCommandName(t *testing.T) {
	cases := map[string]string{
		"/new":              "new",
		"/New@DuelBot":      "new",
		"/move e2e4":        "move",
		"/help@Bot please":  "help",
		"/":                 "",
	}
	for in, want := range cases {
		if got := commandName(in); got != want {
			t.Fatalf("commandName(%q) = %q, want %q", in, got, want)
		}
	}
}
