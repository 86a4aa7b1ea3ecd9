package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sessiontrack/internal/config"
	"sessiontrack/internal/device"
	"sessiontrack/internal/jobs/jobstest"
	"sessiontrack/internal/localstate"
	"sessiontrack/internal/models"
	"sessiontrack/internal/store"
	"sessiontrack/internal/store/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedUpdate struct {
	collection string
	id         string
	fields     map[string]any
}

// flakyStore wraps memstore with failure injection and a write log.
type flakyStore struct {
	*memstore.Store

	mu        sync.Mutex
	getErr    error
	updateErr error
	silent    bool
	updates   []recordedUpdate
	creates   int
}

func (s *flakyStore) Get(ctx context.Context, collection, id string) (store.Document, error) {
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return store.Document{}, err
	}
	return s.Store.Get(ctx, collection, id)
}

func (s *flakyStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	err := s.updateErr
	s.updates = append(s.updates, recordedUpdate{collection: collection, id: id, fields: fields})
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Store.Update(ctx, collection, id, fields)
}

func (s *flakyStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	s.creates++
	s.mu.Unlock()
	return s.Store.Create(ctx, collection, fields)
}

func (s *flakyStore) WatchDocument(ctx context.Context, collection, id string, onNext store.DocumentHandler, onErr store.ErrorHandler) (store.Unsubscribe, error) {
	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	if silent {
		return func() {}, nil
	}
	return s.Store.WatchDocument(ctx, collection, id, onNext, onErr)
}

func (s *flakyStore) setGetErr(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// writes counts updates on collection whose fields contain key=value.
func (s *flakyStore) writes(collection, key string, value any) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.updates {
		if u.collection == collection && u.fields[key] == value {
			n++
		}
	}
	return n
}

type banner struct {
	message string
	kind    models.NoticeType
}

type recordingPresenter struct {
	mu        sync.Mutex
	banners   []banner
	logouts   []string
	redirects []string
	events    []Event
}

func (p *recordingPresenter) ShowBanner(message string, kind models.NoticeType) {
	p.mu.Lock()
	p.banners = append(p.banners, banner{message: message, kind: kind})
	p.mu.Unlock()
}

func (p *recordingPresenter) ShowLogoutMessage(message string) {
	p.mu.Lock()
	p.logouts = append(p.logouts, message)
	p.mu.Unlock()
}

func (p *recordingPresenter) Redirect(target string) {
	p.mu.Lock()
	p.redirects = append(p.redirects, target)
	p.mu.Unlock()
}

func (p *recordingPresenter) Emit(event Event, _ any) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

type presented struct {
	banners   []banner
	logouts   []string
	redirects []string
	events    []Event
}

func (p *recordingPresenter) snapshot() presented {
	p.mu.Lock()
	defer p.mu.Unlock()
	return presented{
		banners:   append([]banner(nil), p.banners...),
		logouts:   append([]string(nil), p.logouts...),
		redirects: append([]string(nil), p.redirects...),
		events:    append([]Event(nil), p.events...),
	}
}

func (p *recordingPresenter) count(event Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == event {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (n *recordingNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return n.err
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

const testUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type harness struct {
	t         *testing.T
	mem       *memstore.Store
	store     *flakyStore
	local     *localstate.State
	timers    *jobstest.Manual
	clock     *fakeClock
	presenter *recordingPresenter
	notifier  *recordingNotifier
	cfg       config.TrackerConfig
	c         *Coordinator
}

func testConfig() config.TrackerConfig {
	return config.TrackerConfig{
		HeartbeatInterval:      2 * time.Minute,
		ActivityThrottle:       30 * time.Second,
		SessionRefreshInterval: time.Minute,
		RevalidateInterval:     5 * time.Minute,
		RedirectDelay:          3 * time.Second,
		BroadcastWindow:        24 * time.Hour,
		OnlineWindow:           5 * time.Minute,
		RemoteTimeout:          5 * time.Second,
		LoginPath:              "register.html",
	}
}

func newHarness(t *testing.T, mutate ...func(*config.TrackerConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	mem := memstore.New(memstore.WithAppendOnly(models.CollectionBroadcasts))
	h := &harness{
		t:         t,
		mem:       mem,
		store:     &flakyStore{Store: mem},
		local:     localstate.NewMemoryState(),
		timers:    jobstest.New(),
		clock:     &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
		presenter: &recordingPresenter{},
		notifier:  &recordingNotifier{},
		cfg:       cfg,
	}
	h.c = New(cfg, Deps{
		Store:     h.store,
		Notify:    h.notifier,
		Local:     h.local,
		Presenter: h.presenter,
		Timers:    h.timers,
		Signals:   device.Signals{UserAgent: testUA, Platform: "Win32", Language: "en-US", Timezone: "UTC", ScreenWidth: 1920, ScreenHeight: 1080},
		Now:       h.clock.Now,
		Log:       zerolog.Nop(),
	})
	return h
}

func verifiedUser(id string) models.UserRecord {
	return models.UserRecord{
		ID:              id,
		Name:            "Ada",
		Phone:           "+100000",
		Role:            models.UserRoleUser,
		Status:          models.UserStatusVerified,
		Plan:            models.UserPlanBasic,
		RegisteredYears: []string{"1", "2"},
	}
}

// seed puts u both in the remote store and in the local session cache.
func (h *harness) seed(u models.UserRecord) {
	h.t.Helper()
	h.putRemote(u)
	if err := h.local.SaveUser(u); err != nil {
		h.t.Fatalf("save cache: %v", err)
	}
}

func (h *harness) putRemote(u models.UserRecord) {
	h.t.Helper()
	fields, err := store.Fields(u)
	if err != nil {
		h.t.Fatalf("fields: %v", err)
	}
	h.mem.Put(models.CollectionUsers, u.ID, fields)
}

func (h *harness) init() {
	h.t.Helper()
	if err := h.c.Init(context.Background()); err != nil {
		h.t.Fatalf("init: %v", err)
	}
}

func (h *harness) remoteUser(id string) models.UserRecord {
	h.t.Helper()
	doc, err := h.mem.Get(context.Background(), models.CollectionUsers, id)
	if err != nil {
		h.t.Fatalf("get user: %v", err)
	}
	var u models.UserRecord
	if err := store.Decode(doc, &u); err != nil {
		h.t.Fatalf("decode user: %v", err)
	}
	return u
}

func (h *harness) sessions() []models.SessionRecord {
	h.t.Helper()
	docs, err := h.mem.Query(context.Background(), store.Query{Collection: models.CollectionDeviceSessions})
	if err != nil {
		h.t.Fatalf("query sessions: %v", err)
	}
	out := make([]models.SessionRecord, 0, len(docs))
	for _, doc := range docs {
		var s models.SessionRecord
		if err := store.Decode(doc, &s); err != nil {
			h.t.Fatalf("decode session: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func (h *harness) broadcast(msg models.BroadcastMessage) string {
	h.t.Helper()
	if msg.Timestamp == 0 {
		msg.Timestamp = h.clock.Now().UnixMilli()
	}
	fields, err := store.Fields(msg)
	if err != nil {
		h.t.Fatalf("fields: %v", err)
	}
	id, err := h.mem.Create(context.Background(), models.CollectionBroadcasts, fields)
	if err != nil {
		h.t.Fatalf("create broadcast: %v", err)
	}
	return id
}
