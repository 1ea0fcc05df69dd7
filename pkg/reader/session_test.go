package reader_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"collie-procedures-backend/pkg/domain"
	"collie-procedures-backend/pkg/ports"
	"collie-procedures-backend/pkg/reader"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthority implementa solo las operaciones que usa la sesión.
type fakeAuthority struct {
	ports.Authority

	opens     atomic.Int32
	marks     atomic.Int32
	downloads atomic.Int32
	markErr   error
}

func (f *fakeAuthority) OpenProcedure(_ context.Context, id string) (*domain.Procedure, error) {
	f.opens.Add(1)
	return &domain.Procedure{ID: id, State: domain.StateOpened, Document: pdfRef}, nil
}

func (f *fakeAuthority) MarkProcedureRead(_ context.Context, id string) (*domain.Procedure, error) {
	f.marks.Add(1)
	if f.markErr != nil {
		return nil, f.markErr
	}
	return &domain.Procedure{ID: id, State: domain.StateRead, Document: pdfRef}, nil
}

func (f *fakeAuthority) FetchDocumentDownloadURL(_ context.Context, id string) (string, error) {
	f.downloads.Add(1)
	return "https://files.test/" + id, nil
}

var (
	pdfRef  = domain.DocumentRef{ID: "doc-1", FileName: "contrato.pdf", ContentType: domain.ContentTypePDF}
	xlsxRef = domain.DocumentRef{ID: "doc-3", FileName: "planilla.xlsx", ContentType: "application/vnd.ms-excel"}
)

func openedProcedure(doc domain.DocumentRef) *domain.Procedure {
	return &domain.Procedure{ID: "p-1", State: domain.StateOpened, Document: doc}
}

func TestSession_MarksOnceAtThreshold(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	var reached []*domain.Procedure
	s := reader.NewSession(auth, openedProcedure(pdfRef), 10, reader.SessionOptions{
		OnReadThresholdReached: func(p *domain.Procedure) { reached = append(reached, p) },
	})

	for _, page := range []int{1, 2, 3, 7, 9, 3} {
		s.PageVisible(ctx, page)
	}
	assert.InDelta(t, 0.5, s.PercentRead(), 1e-9)
	assert.Equal(t, int32(0), auth.marks.Load())
	assert.False(t, s.Marked())

	for _, page := range []int{4, 5, 6, 8, 10} {
		s.PageVisible(ctx, page)
	}
	assert.InDelta(t, 1, s.PercentRead(), 1e-9)
	assert.Equal(t, int32(1), auth.marks.Load())
	require.Len(t, reached, 1)
	assert.Equal(t, domain.StateRead, reached[0].State)
	assert.Equal(t, domain.StateRead, s.Procedure().State)
	assert.Equal(t, pageRange(1, 10), s.SeenPages())
}

func TestSession_IgnoresPagesOutOfRange(t *testing.T) {
	s := reader.NewSession(&fakeAuthority{}, openedProcedure(pdfRef), 4, reader.SessionOptions{})
	s.PageVisible(context.Background(), 0)
	s.PageVisible(context.Background(), 5)
	s.PageVisible(context.Background(), 2)
	assert.Equal(t, []int{2}, s.SeenPages())
}

func TestSession_ConcurrentCrossingsMarkOnce(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	var reached atomic.Int32
	s := reader.NewSession(auth, openedProcedure(pdfRef), 20, reader.SessionOptions{
		OnReadThresholdReached: func(*domain.Procedure) { reached.Add(1) },
	})

	var wg sync.WaitGroup
	for page := 1; page <= 20; page++ {
		for i := 0; i < 3; i++ {
			wg.Add(1)
			go func(page int) {
				defer wg.Done()
				s.PageVisible(ctx, page)
			}(page)
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.marks.Load())
	assert.Equal(t, int32(1), reached.Load())
}

func TestSession_AttachToViewport(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	s := reader.NewSession(auth, openedProcedure(pdfRef), 5, reader.SessionOptions{})
	v := reader.UniformScrollViewport(100, 100, 5)
	require.NoError(t, s.Attach(ctx, v, pageRange(1, 5)))
	defer s.Close()

	v.ScrollToPage(2)
	v.ScrollToPage(3)
	assert.Equal(t, int32(0), auth.marks.Load())
	v.ScrollToPage(4)
	assert.Equal(t, int32(1), auth.marks.Load())
	v.ScrollToPage(5)
	v.ScrollToPage(1)
	assert.Equal(t, int32(1), auth.marks.Load())

	err := s.Attach(ctx, v, pageRange(1, 5))
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestSession_ObsoleteVersionIsReadOnly(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	p := &domain.Procedure{ID: "p-1", State: domain.StateSent, Document: pdfRef, SupersededBy: &domain.VersionRef{ID: "p-2", Version: 2}}
	s := reader.NewSession(auth, p, 2, reader.SessionOptions{})
	assert.True(t, s.ReadOnly())

	got, err := s.Open(ctx)
	require.NoError(t, err)
	assert.Same(t, p, got)

	s.PageVisible(ctx, 1)
	s.PageVisible(ctx, 2)
	assert.Equal(t, int32(0), auth.opens.Load())
	assert.Equal(t, int32(0), auth.marks.Load())
	assert.InDelta(t, 1, s.PercentRead(), 1e-9)
}

func TestSession_OpenOnce(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	s := reader.NewSession(auth, &domain.Procedure{ID: "p-1", State: domain.StateSent, Document: pdfRef}, 3, reader.SessionOptions{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Open(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), auth.opens.Load())
	assert.Equal(t, domain.StateOpened, s.Procedure().State)
}

func TestSession_MarkFailureIsReportedNotRetried(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{markErr: domain.NewError(domain.KindUnavailable, "authority down")}
	var reported []error
	s := reader.NewSession(auth, openedProcedure(pdfRef), 2, reader.SessionOptions{
		OnError: func(err error) { reported = append(reported, err) },
	})

	s.PageVisible(ctx, 1)
	s.PageVisible(ctx, 2)
	s.PageVisible(ctx, 2)
	assert.Equal(t, int32(1), auth.marks.Load())
	require.Len(t, reported, 1)
	assert.True(t, domain.IsKind(reported[0], domain.KindUnavailable))
	assert.Equal(t, domain.StateOpened, s.Procedure().State)

	auth.markErr = nil
	p, err := s.RetryMarkRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRead, p.State)
	assert.Equal(t, int32(2), auth.marks.Load())
}

func TestSession_DownloadMarksNonViewableOnce(t *testing.T) {
	ctx := context.Background()
	auth := &fakeAuthority{}
	var urls []string
	s := reader.NewSession(auth, openedProcedure(xlsxRef), 0, reader.SessionOptions{
		OnDownload: func(_ *domain.Procedure, url string) { urls = append(urls, url) },
	})

	err := s.Attach(ctx, reader.UniformScrollViewport(100, 100, 1), []int{1})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	for i := 0; i < 2; i++ {
		url, err := s.Download(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://files.test/p-1", url)
	}
	assert.Equal(t, int32(2), auth.downloads.Load())
	assert.Equal(t, int32(1), auth.marks.Load())
	assert.Len(t, urls, 2)
	assert.True(t, s.Marked())
}

func TestSession_DownloadDoesNotMarkViewable(t *testing.T) {
	auth := &fakeAuthority{}
	s := reader.NewSession(auth, openedProcedure(pdfRef), 10, reader.SessionOptions{})
	_, err := s.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(0), auth.marks.Load())
}

func TestSession_RetryBeforeThreshold(t *testing.T) {
	s := reader.NewSession(&fakeAuthority{}, openedProcedure(pdfRef), 10, reader.SessionOptions{})
	_, err := s.RetryMarkRead(context.Background())
	assert.True(t, errors.Is(err, &domain.Error{Kind: domain.KindInvalidState}))
}

// stateAuthority aplica las reglas de estado de la autoridad: marcar leído
// un trámite que sigue en SENT se rechaza con invalid_state.
type stateAuthority struct {
	ports.Authority

	mu    sync.Mutex
	state domain.State
	opens int
	marks int
	// block, si no es nil, retiene OpenProcedure; entered avisa que empezó.
	block   chan struct{}
	entered chan struct{}
}

func (a *stateAuthority) OpenProcedure(_ context.Context, id string) (*domain.Procedure, error) {
	if a.block != nil {
		a.entered <- struct{}{}
		<-a.block
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.opens++
	if a.state == domain.StateSent {
		a.state = domain.StateOpened
	}
	return &domain.Procedure{ID: id, State: a.state, Document: pdfRef}, nil
}

func (a *stateAuthority) MarkProcedureRead(_ context.Context, id string) (*domain.Procedure, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marks++
	if a.state == domain.StateSent || a.state == domain.StateAnnulled {
		return nil, domain.NewError(domain.KindInvalidState, "state is %s", a.state).
			WithMetadata("state", string(a.state))
	}
	a.state = domain.StateRead
	return &domain.Procedure{ID: id, State: a.state, Document: pdfRef}, nil
}

func TestSession_SinglePageVisibleAtMountOpensBeforeMarking(t *testing.T) {
	ctx := context.Background()
	auth := &stateAuthority{state: domain.StateSent}
	var errs []error
	s := reader.NewSession(auth, &domain.Procedure{ID: "p-1", State: domain.StateSent, Document: pdfRef}, 1, reader.SessionOptions{
		OnError: func(err error) { errs = append(errs, err) },
	})

	require.NoError(t, s.Attach(ctx, reader.UniformScrollViewport(100, 100, 1), []int{1}))
	defer s.Close()
	p, err := s.Open(ctx)
	require.NoError(t, err)

	assert.Empty(t, errs)
	assert.True(t, s.Marked())
	assert.Equal(t, domain.StateRead, p.State)
	assert.Equal(t, domain.StateRead, s.Procedure().State)
	assert.Equal(t, 1, auth.opens)
	assert.Equal(t, 1, auth.marks)
}

func TestSession_MarkWaitsForOpenInFlight(t *testing.T) {
	ctx := context.Background()
	auth := &stateAuthority{state: domain.StateSent, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := reader.NewSession(auth, &domain.Procedure{ID: "p-1", State: domain.StateSent, Document: pdfRef}, 1, reader.SessionOptions{})

	opened := make(chan error, 1)
	go func() {
		_, err := s.Open(ctx)
		opened <- err
	}()
	<-auth.entered

	viewed := make(chan struct{})
	go func() {
		s.PageVisible(ctx, 1)
		close(viewed)
	}()
	close(auth.block)

	require.NoError(t, <-opened)
	<-viewed
	assert.Equal(t, 1, auth.opens)
	assert.Equal(t, 1, auth.marks)
	assert.Equal(t, domain.StateRead, s.Procedure().State)
}

func TestSession_FailedOpenDoesNotSpendMark(t *testing.T) {
	ctx := context.Background()
	auth := &stateAuthority{state: domain.StateSent}
	var errs []error
	s := reader.NewSession(&failingOpen{stateAuthority: auth, fails: 1}, &domain.Procedure{ID: "p-1", State: domain.StateSent, Document: pdfRef}, 1, reader.SessionOptions{
		OnError: func(err error) { errs = append(errs, err) },
	})

	s.PageVisible(ctx, 1)
	require.Len(t, errs, 1)
	assert.True(t, domain.IsKind(errs[0], domain.KindUnavailable))
	assert.False(t, s.Marked())
	assert.Equal(t, 0, auth.marks)

	s.PageVisible(ctx, 1)
	assert.True(t, s.Marked())
	assert.Equal(t, 1, auth.marks)
	assert.Equal(t, domain.StateRead, s.Procedure().State)
}

// failingOpen falla las primeras aperturas como una autoridad caída.
type failingOpen struct {
	*stateAuthority
	fails int
}

func (f *failingOpen) OpenProcedure(ctx context.Context, id string) (*domain.Procedure, error) {
	if f.fails > 0 {
		f.fails--
		return nil, domain.NewError(domain.KindUnavailable, "authority down")
	}
	return f.stateAuthority.OpenProcedure(ctx, id)
}

func TestSession_AnnulledIsReadOnly(t *testing.T) {
	ctx := context.Background()
	auth := &stateAuthority{state: domain.StateAnnulled}
	var errs []error
	s := reader.NewSession(auth, &domain.Procedure{ID: "p-1", State: domain.StateAnnulled, Document: pdfRef}, 1, reader.SessionOptions{
		OnError: func(err error) { errs = append(errs, err) },
	})
	assert.True(t, s.ReadOnly())

	s.PageVisible(ctx, 1)
	assert.Empty(t, errs)
	assert.False(t, s.Marked())
	assert.Equal(t, 0, auth.marks)

	_, err := s.RetryMarkRead(ctx)
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
	assert.Equal(t, 0, auth.marks)
}
