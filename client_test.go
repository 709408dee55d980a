package ldapwire

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClientHarness pairs a Client with the fake servers its scripted
// dialer produces, one per dial, in dial order.
type testClientHarness struct {
	client  *Client
	dials   atomic.Int32
	servers chan *fakeServer
}

func newTestClient(t *testing.T, cfg *Config) *testClientHarness {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Address == "" {
		cfg.Address = "test.server:389"
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 2 * time.Second
	}
	if cfg.Pool == nil {
		cfg.Pool = &PoolConfig{MaxConnections: 2, CheckoutTimeout: time.Second}
	}
	cfg.Logger = testLogger()

	client, err := New(cfg)
	require.NoError(t, err)

	h := &testClientHarness{client: client, servers: make(chan *fakeServer, 8)}
	client.pool.dial = func(ctx context.Context) (*Conn, error) {
		h.dials.Add(1)
		clientSide, serverSide := net.Pipe()
		conn := newConn(clientSide, cfg.Address, time.Second, testLogger())
		conn.setState(StateAvailable)
		srv := startFakeServer(serverSide)
		t.Cleanup(srv.close)
		h.servers <- srv
		return conn, nil
	}
	t.Cleanup(client.Close)
	return h
}

func (h *testClientHarness) nextServer(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case srv := <-h.servers:
		return srv
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a dial")
		return nil
	}
}

func TestClientExecuteSuccess(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		req := srv.expectRequest(t)
		srv.writeResult(t, req.MessageID, ApplicationExtendedResponse, ResultSuccess, "")
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	assert.Equal(t, int32(1), h.dials.Load())
	assert.Equal(t, int32(1), h.client.Stats().IdleConnections)
}

func TestClientExecuteUsableErrorNotRetried(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		req := srv.expectRequest(t)
		srv.writeResult(t, req.MessageID, ApplicationExtendedResponse, ResultNoSuchObject, "nothing here")
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultNoSuchObject, result.ResultCode)
	assert.Equal(t, "nothing here", result.DiagnosticMessage)

	// the error was server-side, not transport-side: one dial, one attempt,
	// and the connection stays in rotation
	assert.Equal(t, int32(1), h.dials.Load())
	assert.Equal(t, int32(1), h.client.Stats().IdleConnections)
}

func TestClientExecuteRetriesOnceOnConnectionFailure(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		first := h.nextServer(t)
		first.expectRequest(t)
		first.close()

		second := h.nextServer(t)
		req := second.expectRequest(t)
		second.writeResult(t, req.MessageID, ApplicationExtendedResponse, ResultSuccess, "second time lucky")
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	assert.Equal(t, "second time lucky", result.DiagnosticMessage)
	assert.Equal(t, int32(2), h.dials.Load())
	assert.Equal(t, int64(1), h.client.Stats().DefunctReplacements)
}

func TestClientExecuteNoThirdAttempt(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		for i := 0; i < 2; i++ {
			srv := h.nextServer(t)
			srv.expectRequest(t)
			srv.close()
		}
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultServerDown, result.ResultCode)
	assert.Equal(t, ClassConnectionFatal, DefaultResultClassifier(result.ResultCode))
	assert.Equal(t, int32(2), h.dials.Load())
}

func TestClientExecuteTimeoutTriggersRetry(t *testing.T) {
	h := newTestClient(t, &Config{OperationTimeout: 100 * time.Millisecond})

	go func() {
		first := h.nextServer(t)
		first.expectRequest(t)
		// never respond; the operation timeout is connection-fatal

		second := h.nextServer(t)
		req := second.expectRequest(t)
		second.writeResult(t, req.MessageID, ApplicationExtendedResponse, ResultSuccess, "")
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	assert.Equal(t, int32(2), h.dials.Load())
}

func TestClientExecuteReplacementDialFailure(t *testing.T) {
	h := newTestClient(t, nil)
	goodDial := h.client.pool.dial
	h.client.pool.dial = func(ctx context.Context) (*Conn, error) {
		if h.dials.Load() >= 1 {
			h.dials.Add(1)
			return nil, errors.New("connection refused")
		}
		return goodDial(ctx)
	}

	go func() {
		srv := h.nextServer(t)
		srv.expectRequest(t)
		srv.close()
	}()

	result, err := h.client.Execute(context.Background(), whoAmIRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, ResultConnectError, result.ResultCode)
	assert.Contains(t, result.DiagnosticMessage, "connection refused")
}

func TestClientExecuteCancellationNotRetried(t *testing.T) {
	h := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	scriptDone := make(chan struct{})

	go func() {
		defer close(scriptDone)
		srv := h.nextServer(t)
		srv.expectRequest(t)
		cancel()
		// the abandoned operation is announced on the wire
		abandonMsg := srv.expectRequest(t)
		assert.Equal(t, ApplicationAbandonRequest, abandonMsg.ProtocolOp.Tag)
	}()

	_, err := h.client.Execute(ctx, whoAmIRequest(), nil)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(1), h.dials.Load())
	<-scriptDone
}

func TestClientSearchCollectsEntries(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		req := srv.expectRequest(t)
		assert.Equal(t, ApplicationSearchRequest, req.ProtocolOp.Tag)
		assert.Equal(t, "dc=example,dc=com", string(req.ProtocolOp.Elements()[0].OctetString()))
		srv.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		srv.writeEntry(t, req.MessageID, "uid=b,dc=example,dc=com")
		srv.writeReference(t, req.MessageID, "ldap://other.example.com/")
		srv.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultSuccess, "")
	}()

	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"), "cn", "mail")
	result, err := h.client.Search(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	require.Len(t, result.Entries, 2)
	assert.Equal(t, "uid=a,dc=example,dc=com", result.Entries[0].DN)
	assert.Equal(t, "uid=b,dc=example,dc=com", result.Entries[1].DN)
	assert.Equal(t, 2, result.EntriesReturned)
	assert.Equal(t, 1, result.ReferencesReturned)
	assert.Equal(t, 1, result.PagesRetrieved)
}

// servePage answers one search request with the given entry DNs and a
// paged results response carrying the given continuation cookie.
func servePage(t *testing.T, srv *fakeServer, wantCookie []byte, dns []string, nextCookie []byte) {
	t.Helper()
	req := srv.expectRequest(t)
	pc, err := FindPagedResultsControl(req.Controls)
	assert.NoError(t, err)
	if assert.NotNil(t, pc) {
		assert.Equal(t, wantCookie, pc.Cookie)
	}
	for _, dn := range dns {
		srv.writeEntry(t, req.MessageID, dn)
	}
	response := &PagedResultsControl{Cookie: nextCookie}
	srv.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultSuccess, "", response.Control())
}

func TestClientSearchPagedTraversal(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		servePage(t, srv, nil, []string{"uid=a,dc=example,dc=com", "uid=b,dc=example,dc=com"}, []byte("c1"))
		servePage(t, srv, []byte("c1"), []string{"uid=c,dc=example,dc=com", "uid=d,dc=example,dc=com"}, []byte("c2"))
		servePage(t, srv, []byte("c2"), []string{"uid=e,dc=example,dc=com"}, nil)
	}()

	var dns []string
	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(context.Background(), req, 2, SearchCallbacks{
		OnEntry: func(e *Entry) { dns = append(dns, e.DN) },
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	assert.Equal(t, 3, result.PagesRetrieved)
	assert.Equal(t, 5, result.EntriesReturned)
	assert.Equal(t, []string{
		"uid=a,dc=example,dc=com",
		"uid=b,dc=example,dc=com",
		"uid=c,dc=example,dc=com",
		"uid=d,dc=example,dc=com",
		"uid=e,dc=example,dc=com",
	}, dns)
	// the whole traversal rode one connection
	assert.Equal(t, int32(1), h.dials.Load())
}

func TestClientSearchPagedStopsOnError(t *testing.T) {
	h := newTestClient(t, nil)
	requests := make(chan struct{}, 8)

	go func() {
		srv := h.nextServer(t)

		req := srv.expectRequest(t)
		requests <- struct{}{}
		srv.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		response := &PagedResultsControl{Cookie: []byte("c1")}
		srv.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultSuccess, "", response.Control())

		req = srv.expectRequest(t)
		requests <- struct{}{}
		srv.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultUnwillingToPerform, "size limit policy")
	}()

	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(context.Background(), req, 1, SearchCallbacks{})
	require.NoError(t, err)
	assert.Equal(t, ResultUnwillingToPerform, result.ResultCode)
	assert.Equal(t, 2, result.PagesRetrieved)
	assert.Equal(t, 1, result.EntriesReturned)

	// no third page was requested
	assert.Len(t, requests, 2)
}

func TestClientSearchPagedDeduplicatesWithinPage(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		req := srv.expectRequest(t)
		srv.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		srv.writeEntry(t, req.MessageID, "UID=A,DC=EXAMPLE,DC=COM") // same entry, different case
		srv.writeEntry(t, req.MessageID, "uid=b,dc=example,dc=com")
		response := &PagedResultsControl{}
		srv.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultSuccess, "", response.Control())
	}()

	var dns []string
	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(context.Background(), req, 10, SearchCallbacks{
		OnEntry: func(e *Entry) { dns = append(dns, e.DN) },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"uid=a,dc=example,dc=com", "uid=b,dc=example,dc=com"}, dns)
	assert.Equal(t, 2, result.EntriesReturned)
}

func TestClientSearchPagedDuplicateSetResetsPerPage(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		srv := h.nextServer(t)
		servePage(t, srv, nil, []string{"uid=a,dc=example,dc=com"}, []byte("c1"))
		servePage(t, srv, []byte("c1"), []string{"uid=a,dc=example,dc=com"}, nil)
	}()

	var calls int
	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(context.Background(), req, 1, SearchCallbacks{
		OnEntry: func(*Entry) { calls++ },
	})
	require.NoError(t, err)

	// the same DN on two different pages is two deliveries; suppression is
	// scoped to a page
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, result.EntriesReturned)
}

func TestClientSearchPagedCancellationStopsPaging(t *testing.T) {
	h := newTestClient(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	scriptDone := make(chan struct{})

	go func() {
		defer close(scriptDone)
		srv := h.nextServer(t)
		req := srv.expectRequest(t)
		// stream one entry, then stall: the caller cancels mid-page and the
		// abandon arrives instead of the page being finished
		srv.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		abandonMsg := srv.expectRequest(t)
		assert.Equal(t, ApplicationAbandonRequest, abandonMsg.ProtocolOp.Tag)
	}()

	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(ctx, req, 1, SearchCallbacks{
		OnEntry: func(*Entry) { cancel() },
	})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, result.PagesRetrieved)
	assert.Equal(t, 1, result.EntriesReturned)
	<-scriptDone
}

// A page interrupted mid-stream is retried on a fresh connection, and the
// entries the first attempt already delivered are not delivered again: the
// duplicate-suppression set is scoped to the page, not the attempt.
func TestClientSearchPagedRetryDoesNotRedeliverEntries(t *testing.T) {
	h := newTestClient(t, nil)

	go func() {
		first := h.nextServer(t)
		req := first.expectRequest(t)
		first.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		// the connection dies mid-page, after one entry was streamed
		first.close()

		second := h.nextServer(t)
		req = second.expectRequest(t)
		second.writeEntry(t, req.MessageID, "uid=a,dc=example,dc=com")
		second.writeEntry(t, req.MessageID, "uid=b,dc=example,dc=com")
		response := &PagedResultsControl{}
		second.writeResult(t, req.MessageID, ApplicationSearchResultDone, ResultSuccess, "", response.Control())
	}()

	var dns []string
	req := NewSearchRequest("dc=example,dc=com", ScopeWholeSubtree, FilterPresent("objectClass"))
	result, err := h.client.SearchPaged(context.Background(), req, 10, SearchCallbacks{
		OnEntry: func(e *Entry) { dns = append(dns, e.DN) },
	})
	require.NoError(t, err)
	assert.Equal(t, ResultSuccess, result.ResultCode)
	assert.Equal(t, []string{"uid=a,dc=example,dc=com", "uid=b,dc=example,dc=com"}, dns)
	assert.Equal(t, 2, result.EntriesReturned)
	assert.Equal(t, 1, result.PagesRetrieved)
	assert.Equal(t, int32(2), h.dials.Load())
}
