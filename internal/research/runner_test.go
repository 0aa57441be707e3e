package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/product-research/internal/browser"
	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/paginator"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/ratelimit"
	"github.com/maltedev/product-research/internal/rates"
	"github.com/maltedev/product-research/internal/sites"
	"github.com/maltedev/product-research/internal/storage"
)

const testSites = `
sites:
  - name: shop
    start_url: https://shop.example/list
    login_check: .avatar
    login_wait: 10ms
    settle: 1ms
    selectors:
      item: tr.row
    columns:
      - field: title
        selector: td:nth-child(1)
      - field: price_rub
        selector: td:nth-child(2)
        number: true
      - field: weight_kg
        selector: td:nth-child(3)
        number: true
  - name: scoped
    start_url: https://shop.example/list
    settle: 1ms
    selectors:
      root: "#listing"
      item: tr.row
    columns:
      - field: title
        selector: td:nth-child(1)
`

// fakeListing is a three-page table whose page number changes on click.
type fakeListing struct {
	mu         sync.Mutex
	current    int
	total      int
	loggedIn   bool
	contentErr map[int]error
	navErrs    []error
	navigated  []string
	// ads renders a promoted row outside the listing container.
	ads bool
}

func newFakeListing() *fakeListing {
	return &fakeListing{current: 1, total: 3, loggedIn: true}
}

func (l *fakeListing) NavigateWithRetry(_ context.Context, url string, _ int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.navigated = append(l.navigated, url)
	l.current = 1
	if len(l.navErrs) > 0 {
		err := l.navErrs[0]
		l.navErrs = l.navErrs[1:]
		return err
	}
	return nil
}

func (l *fakeListing) IsVisible(string) bool {
	return l.loggedIn
}

func (l *fakeListing) WaitVisible(string, time.Duration) error {
	return fmt.Errorf("%w: .avatar", browser.ErrTimeout)
}

func (l *fakeListing) Content() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.contentErr[l.current]; err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<div id="listing"><table>`)
	for i := 1; i <= 2; i++ {
		fmt.Fprintf(&b, `<tr class="row"><td>Item %d-%d</td><td>1 200</td><td>0.5</td></tr>`, l.current, i)
	}
	b.WriteString("</table></div>")
	if l.ads {
		b.WriteString(`<div id="recommended"><table><tr class="row"><td>AD</td><td>99</td><td>1</td></tr></table></div>`)
	}
	return b.String(), nil
}

func (l *fakeListing) PageNumber() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current, true
}

func (l *fakeListing) LastItemText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("Item %d-2", l.current)
}

func (l *fakeListing) PageControl(n int) (paginator.Control, bool) {
	if n > l.total {
		return nil, false
	}
	return controlFunc(func() error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.current = n
		return nil
	}), true
}

func (l *fakeListing) NextControl() (paginator.Control, bool) {
	return nil, false
}

func (l *fakeListing) ExpectResponse(_ string, _ time.Duration, action func() error) error {
	return action()
}

type controlFunc func() error

func (f controlFunc) Click() error { return f() }

type fakeOpener struct {
	listing *fakeListing
	errs    []error
	calls   int
}

func (o *fakeOpener) Open(context.Context, sites.Site) (Driver, paginator.Surface, error) {
	o.calls++
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return nil, nil, err
		}
	}
	return o.listing, o.listing, nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishRunCompleted(ctx context.Context, run *models.Run) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	runner  *Runner
	opener  *fakeOpener
	listing *fakeListing
	results *storage.ResultStore
	queue   *queue.InMemoryQueue
}

func newFixture(t *testing.T, config Config, opts ...Option) *fixture {
	t.Helper()

	dir := t.TempDir()
	sitesPath := filepath.Join(dir, "sites.yaml")
	require.NoError(t, os.WriteFile(sitesPath, []byte(testSites), 0o644))
	registry, err := sites.Load(sitesPath)
	require.NoError(t, err)

	results, err := storage.NewResultStore(filepath.Join(dir, "results"))
	require.NoError(t, err)

	listing := newFakeListing()
	opener := &fakeOpener{listing: listing}
	q := queue.NewInMemoryQueue()

	config.PollInterval = time.Millisecond
	config.PageChangeTimeout = 100 * time.Millisecond

	opts = append([]Option{WithLimiter(ratelimit.NewAdaptiveRateLimiter(0, 0))}, opts...)
	runner := NewRunner(registry, opener, q, results, config, testLogger(), opts...)

	return &fixture{runner: runner, opener: opener, listing: listing, results: results, queue: q}
}

func TestRunner_Process_Completes(t *testing.T) {
	f := newFixture(t, Config{WriteXLSX: true})
	task := queue.NewTask("shop", "", 0, 0)

	run, err := f.runner.Process(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, []int{1, 2, 3}, run.Pages)
	assert.Equal(t, string(paginator.StopLastPage), run.StopReason)
	require.Len(t, run.Records, 6)
	assert.Equal(t, "Item 1-1", run.Records[0].String("title"))
	assert.Equal(t, "Item 3-2", run.Records[5].String("title"))
	price, ok := run.Records[0].Number("price_rub")
	require.True(t, ok)
	assert.Equal(t, 1200.0, price)

	assert.Equal(t, []string{"https://shop.example/list"}, f.listing.navigated)

	summary, ok := f.results.Get(run.ID)
	require.True(t, ok)
	assert.Equal(t, 6, summary.RecordCount)
	assert.FileExists(t, filepath.Join(f.results.Dir(), strings.TrimSuffix(summary.File, ".json")+".xlsx"))
}

func TestRunner_Process_TaskOverrides(t *testing.T) {
	f := newFixture(t, Config{})
	task := queue.NewTask("shop", "https://shop.example/list?q=lamp", 2, 0)

	run, err := f.runner.Process(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2}, run.Pages)
	assert.Equal(t, string(paginator.StopMaxPages), run.StopReason)
	assert.Equal(t, []string{"https://shop.example/list?q=lamp"}, f.listing.navigated)
}

func TestRunner_Process_RetriesTransientFailure(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 2})
	f.listing.navErrs = []error{fmt.Errorf("%w: goto https://shop.example/list", browser.ErrTimeout)}
	task := queue.NewTask("shop", "", 0, 0)

	run, err := f.runner.Process(context.Background(), task)
	require.NoError(t, err)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, task.Retries)
	assert.Equal(t, 2, f.opener.calls)
	assert.Len(t, f.listing.navigated, 2)
}

func TestRunner_Process_GivesUp(t *testing.T) {
	f := newFixture(t, Config{MaxRetries: 1})
	f.listing.navErrs = []error{errors.New("navigation failed"), errors.New("navigation failed again")}
	task := queue.NewTask("shop", "", 0, 0)

	run, err := f.runner.Process(context.Background(), task)
	require.Error(t, err)

	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "navigation failed again")
	assert.Equal(t, 2, f.opener.calls)

	summary, ok := f.results.Get(task.ID)
	require.True(t, ok)
	assert.Equal(t, models.RunStatusFailed, summary.Status)
}

func TestRunner_Process_DoesNotRetryLaunchFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"session active", browser.ErrSessionActive},
		{"profile busy", fmt.Errorf("%w: /home/me/.config/microsoft-edge", browser.ErrProfileBusy)},
		{"executable missing", browser.ErrExecutableNotFound},
		{"launch exception", errors.New("browserType.launchPersistentContext: crashed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{MaxRetries: 3})
			f.opener.errs = []error{tt.err, tt.err, tt.err, tt.err}
			task := queue.NewTask("shop", "", 0, 0)

			run, err := f.runner.Process(context.Background(), task)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrLaunch)
			assert.ErrorIs(t, err, tt.err)

			assert.Equal(t, 1, f.opener.calls)
			assert.Zero(t, task.Retries)
			assert.Equal(t, models.RunStatusFailed, run.Status)
			assert.Empty(t, f.listing.navigated)
		})
	}
}

func TestRunner_Process_ExtractsOnlyInsideRoot(t *testing.T) {
	f := newFixture(t, Config{})
	f.listing.ads = true

	run, err := f.runner.Process(context.Background(), queue.NewTask("scoped", "", 0, 0))
	require.NoError(t, err)

	require.Len(t, run.Records, 6)
	for _, rec := range run.Records {
		assert.NotEqual(t, "AD", rec.String("title"))
	}
}

func TestRunner_Process_UnknownSite(t *testing.T) {
	f := newFixture(t, Config{})

	run, err := f.runner.Process(context.Background(), queue.NewTask("nowhere", "", 0, 0))
	assert.ErrorIs(t, err, ErrUnknownSite)
	assert.Nil(t, run)
	assert.Zero(t, f.opener.calls)
}

func TestRunner_Process_LoginTimeout(t *testing.T) {
	f := newFixture(t, Config{})
	f.listing.loggedIn = false

	run, err := f.runner.Process(context.Background(), queue.NewTask("shop", "", 0, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrTimeout)
	assert.Contains(t, run.Error, "login not detected")
	assert.Empty(t, run.Records)
}

func TestRunner_Process_ExtractionErrorKeepsRecords(t *testing.T) {
	f := newFixture(t, Config{})
	f.listing.contentErr = map[int]error{2: errors.New("page crashed")}

	run, err := f.runner.Process(context.Background(), queue.NewTask("shop", "", 0, 0))
	require.Error(t, err)

	var xerr *paginator.ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, 2, xerr.Page)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, string(paginator.StopExtractionError), run.StopReason)
	assert.Len(t, run.Records, 2)

	stored, err := f.results.Load(run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Records, 2)
}

func TestRunner_Process_EnrichesAndPublishes(t *testing.T) {
	calc := profit.NewCalculator([]rates.Channel{
		{Provider: "OZON", Name: "OZON Economy", BaseFee: 3, WeightFee: 20, WeightUnit: rates.UnitKg, MaxWeightKg: 30},
	}, 0.08, 0.15, 0)
	pub := new(MockPublisher)
	f := newFixture(t, Config{}, WithCalculator(calc), WithPublisher(pub))

	pub.On("PublishRunCompleted", mock.Anything, mock.MatchedBy(func(run *models.Run) bool {
		return run.Status == models.RunStatusCompleted && len(run.Records) == 6
	})).Return(nil).Once()

	run, err := f.runner.Process(context.Background(), queue.NewTask("shop", "", 0, 0))
	require.NoError(t, err)

	rec := run.Records[0]
	assert.Equal(t, "OZON Economy", rec.String("channel"))
	assert.Equal(t, "EXTRA_SMALL", rec.String("size_category"))
	shipping, ok := rec.Number("shipping_cost")
	require.True(t, ok)
	assert.InDelta(t, 13.0, shipping, 1e-9)

	pub.AssertExpectations(t)
}

func TestRunner_Start(t *testing.T) {
	f := newFixture(t, Config{})

	first := queue.NewTask("shop", "", 1, 0)
	second := queue.NewTask("shop", "", 1, 5)
	require.NoError(t, queue.PushBatch(f.queue, []*queue.Task{first, second}))
	require.NoError(t, f.queue.Close())

	require.NoError(t, f.runner.Start(context.Background()))

	summaries := f.results.List()
	assert.Len(t, summaries, 2)
	_, ok := f.results.Get(first.ID)
	assert.True(t, ok)
	_, ok = f.results.Get(second.ID)
	assert.True(t, ok)
}

func TestRunner_Start_Canceled(t *testing.T) {
	f := newFixture(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, f.runner.Start(ctx), context.Canceled)
}
