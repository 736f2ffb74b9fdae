package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/tbxark/formpilot/store"
	"github.com/tbxark/formpilot/types"
)

type fakeProvider struct {
	mu         sync.Mutex
	createErrs []error
	replaceErr []error
	infoErrs   []error
	creates    int
	replaces   int
	infos      int
	fields     []types.Field
	info       RemoteForm
}

func next(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeProvider) CreateRemoteForm(ctx context.Context, userID string, form RemoteForm) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err := next(&f.createErrs); err != nil {
		return "", err
	}
	return fmt.Sprintf("remote-%d", f.creates), nil
}

func (f *fakeProvider) UpdateRemoteInfo(ctx context.Context, userID, remoteID string, form RemoteForm) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos++
	if err := next(&f.infoErrs); err != nil {
		return err
	}
	f.info = form
	return nil
}

func (f *fakeProvider) ReplaceRemoteFields(ctx context.Context, userID, remoteID string, fields []types.Field) (RemoteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaces++
	if err := next(&f.replaceErr); err != nil {
		return RemoteRef{}, err
	}
	f.fields = fields
	return RemoteRef{ID: remoteID, URL: "https://docs.google.com/forms/d/e/" + remoteID + "/viewform"}, nil
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify("op", nil))

	cases := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", &googleapi.Error{Code: 429}, true},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"unauthorized", &googleapi.Error{Code: 401}, false},
		{"forbidden", &googleapi.Error{Code: 403}, false},
		{"not found", &googleapi.Error{Code: 404}, false},
		{"dns", &net.DNSError{Err: "no such host", Name: "forms.googleapis.com"}, true},
		{"reset", errors.New("read tcp: connection reset by peer"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"other", errors.New("bad field"), false},
		{"eof", io.EOF, true},
		{"truncated body", fmt.Errorf("decode response: %w", io.ErrUnexpectedEOF), true},
		{"eof inside a word", errors.New("unknown field geofence"), false},
		{"eof mentioned", errors.New("invalid value: expected EOF marker"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Classify("op", tc.err)
			assert.Equal(t, tc.transient, errors.Is(err, ErrTransient))
			assert.Equal(t, !tc.transient, errors.Is(err, ErrPermanent))
			assert.ErrorIs(t, err, tc.err)
		})
	}

	var pErr *Error
	require.ErrorAs(t, Classify("op", &googleapi.Error{Code: 403}), &pErr)
	assert.Equal(t, 403, pErr.Status)

	once := Classify("op", errors.New("x"))
	assert.Same(t, once, Classify("again", once))
}

func TestRetryingRetriesTransient(t *testing.T) {
	fp := &fakeProvider{createErrs: []error{
		&googleapi.Error{Code: 503},
		&googleapi.Error{Code: 429},
	}}
	var attempts []error
	r := NewRetrying(fp, fastPolicy(), WithAttemptHook(func(op string, err error) {
		attempts = append(attempts, err)
	}))

	id, err := r.CreateRemoteForm(context.Background(), "u1", RemoteForm{Title: "T"})
	require.NoError(t, err)
	assert.Equal(t, "remote-3", id)
	assert.Equal(t, 3, fp.creates)
	require.Len(t, attempts, 3)
	assert.Nil(t, attempts[2])
}

func TestRetryingStopsOnPermanent(t *testing.T) {
	fp := &fakeProvider{replaceErr: []error{&googleapi.Error{Code: 404}}}
	r := NewRetrying(fp, fastPolicy())

	_, err := r.ReplaceRemoteFields(context.Background(), "u1", "remote-1", nil)
	require.ErrorIs(t, err, ErrPermanent)
	assert.Equal(t, 1, fp.replaces)
}

func TestRetryingGivesUp(t *testing.T) {
	boom := &googleapi.Error{Code: 500}
	fp := &fakeProvider{createErrs: []error{boom, boom, boom, boom, boom}}
	r := NewRetrying(fp, fastPolicy(), WithRateLimit(1000, 10))

	_, err := r.CreateRemoteForm(context.Background(), "u1", RemoteForm{})
	require.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")
	assert.Equal(t, 4, fp.creates)
}

func TestRetryingHonorsCancel(t *testing.T) {
	fp := &fakeProvider{createErrs: []error{&googleapi.Error{Code: 503}}}
	policy := fastPolicy()
	policy.BaseDelay = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewRetrying(fp, policy).CreateRemoteForm(ctx, "u1", RemoteForm{})
	require.ErrorIs(t, err, ErrPermanent)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, fp.creates)
}

func newSyncFixture(t *testing.T, fp *fakeProvider) (*Syncer, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	_, err := st.Create(context.Background(), "f1", "u1")
	require.NoError(t, err)
	form, err := st.Get(context.Background(), "f1")
	require.NoError(t, err)
	form.Title = "Feedback"
	form.Description = "Tell us about the event"
	form.Fields = []types.Field{
		{ID: "q1", Label: "How was it?", Kind: types.KindMultiLineText, Position: 0},
		{ID: "q2", Label: "Rating", Kind: types.KindSingleChoice, Options: []string{"1", "2", "3"}, Required: true, Position: 1},
	}
	_, err = st.Put(context.Background(), form)
	require.NoError(t, err)
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	return NewSyncer(st, fp, WithSyncClock(func() time.Time { return at })), st
}

func TestSync(t *testing.T) {
	fp := &fakeProvider{}
	s, _ := newSyncFixture(t, fp)

	form, err := s.Sync(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, form.Sync.Synced)
	assert.Equal(t, "remote-1", form.Sync.RemoteID)
	assert.Equal(t, "https://docs.google.com/forms/d/e/remote-1/viewform", form.Sync.RemoteURL)
	require.NotNil(t, form.Sync.SyncedAt)
	assert.Len(t, fp.fields, 2)
	assert.Equal(t, RemoteForm{Title: "Feedback", Description: "Tell us about the event"}, fp.info)

	_, err = s.Sync(context.Background(), "u1", "f1")
	require.ErrorIs(t, err, ErrAlreadySynced)
	assert.Equal(t, 1, fp.creates)
}

func TestSyncRejects(t *testing.T) {
	s, _ := newSyncFixture(t, &fakeProvider{})

	_, err := s.Sync(context.Background(), "u2", "f1")
	require.ErrorIs(t, err, store.ErrForbidden)

	_, err = s.Sync(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSyncWaitsForOpenSession(t *testing.T) {
	fp := &fakeProvider{}
	st := store.NewMemory()
	_, err := st.Create(context.Background(), "f1", "u1")
	require.NoError(t, err)
	locks := store.NewLocks()
	s := NewSyncer(st, fp, WithSyncLocks(locks))

	release, ok := locks.TryLock("f1")
	require.True(t, ok)
	_, err = s.Sync(context.Background(), "u1", "f1")
	require.ErrorIs(t, err, store.ErrBusy)
	assert.Equal(t, 0, fp.creates)

	release()
	form, err := s.Sync(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, form.Sync.Synced)
}

func TestSyncReusesRemoteAfterPartialFailure(t *testing.T) {
	fp := &fakeProvider{replaceErr: []error{Permanent("replace remote fields", 400, errors.New("bad item"))}}
	s, st := newSyncFixture(t, fp)

	_, err := s.Sync(context.Background(), "u1", "f1")
	require.ErrorIs(t, err, ErrPermanent)
	stored, err := st.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, stored.Sync.Synced)
	assert.Equal(t, "remote-1", stored.Sync.RemoteID)

	form, err := s.Sync(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, form.Sync.Synced)
	assert.Equal(t, "remote-1", form.Sync.RemoteID)
	assert.Equal(t, 1, fp.creates)
	assert.Equal(t, 2, fp.replaces)
}

func TestSyncRetriesInfoWithoutSecondCreate(t *testing.T) {
	fp := &fakeProvider{infoErrs: []error{&googleapi.Error{Code: 503}, &googleapi.Error{Code: 502}}}
	st := store.NewMemory()
	_, err := st.Create(context.Background(), "f1", "u1")
	require.NoError(t, err)
	s := NewSyncer(st, NewRetrying(fp, fastPolicy()))

	form, err := s.Sync(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, form.Sync.Synced)
	assert.Equal(t, "remote-1", form.Sync.RemoteID)
	assert.Equal(t, 1, fp.creates)
	assert.Equal(t, 3, fp.infos)
	assert.Equal(t, 1, fp.replaces)
}

func TestSyncKeepsRemoteWhenInfoFails(t *testing.T) {
	fp := &fakeProvider{infoErrs: []error{Permanent("update remote info", 400, errors.New("bad info"))}}
	s, st := newSyncFixture(t, fp)

	_, err := s.Sync(context.Background(), "u1", "f1")
	require.ErrorIs(t, err, ErrPermanent)
	stored, err := st.Get(context.Background(), "f1")
	require.NoError(t, err)
	assert.False(t, stored.Sync.Synced)
	assert.Equal(t, "remote-1", stored.Sync.RemoteID)
	assert.Equal(t, 0, fp.replaces)

	form, err := s.Sync(context.Background(), "u1", "f1")
	require.NoError(t, err)
	assert.True(t, form.Sync.Synced)
	assert.Equal(t, 1, fp.creates)
	assert.Equal(t, 2, fp.infos)
}
