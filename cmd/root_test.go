package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/openperu-ingest/internal/api"
	"github.com/JakeFAU/openperu-ingest/internal/config"
	"github.com/JakeFAU/openperu-ingest/internal/ingest"
)

// MockApp mocks the App interface.
type MockApp struct {
	mock.Mock
}

func (m *MockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *MockApp) IngestBills(ctx context.Context, refs []ingest.BillRef) (ingest.Summary, error) {
	args := m.Called(ctx, refs)
	return args.Get(0).(ingest.Summary), args.Error(1)
}

func (m *MockApp) IngestCongresspeople(ctx context.Context) (ingest.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(ingest.Summary), args.Error(1)
}

func (m *MockApp) OpsServer() *api.Server {
	args := m.Called()
	return args.Get(0).(*api.Server)
}

func (m *MockApp) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// useApp swaps the factories for the duration of a test.
func useApp(t *testing.T, a App, err error) *int {
	t.Helper()
	calls := 0
	prevApp, prevLogger := newApp, newLogger
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		calls++
		if err != nil {
			return nil, err
		}
		return a, nil
	}
	newLogger = func(config.Config) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = prevApp, prevLogger })
	return &calls
}

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBillsCommandRunsRange(t *testing.T) {
	m := new(MockApp)
	useApp(t, m, nil)
	m.On("IngestBills", mock.Anything, ingest.Range("2021", 5, 7)).
		Return(ingest.Summary{RunID: "r1", Kind: "bills", Requested: 3, Normalized: 3}, nil).Once()
	m.On("Close", mock.Anything).Return(nil).Once()

	out, err := execute("bills", "--year", "2021", "--from", "5", "--to", "7")
	require.NoError(t, err)
	assert.Contains(t, out, `"requested": 3`)
	assert.Contains(t, out, `"run_id": "r1"`)
	m.AssertExpectations(t)
}

func TestBillsCommandClosesOnFailure(t *testing.T) {
	m := new(MockApp)
	useApp(t, m, nil)
	m.On("IngestBills", mock.Anything, mock.Anything).
		Return(ingest.Summary{RunID: "r2", Kind: "bills"}, context.Canceled).Once()
	m.On("Close", mock.Anything).Return(nil).Once()

	_, err := execute("bills", "--year", "2021", "--to", "1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "bills run r2")
	m.AssertExpectations(t)
}

func TestBillsCommandRejectsBadFlagsBeforeStartup(t *testing.T) {
	cases := map[string][]string{
		"missing year":   {"bills", "--to", "3"},
		"short year":     {"bills", "--year", "21", "--to", "3"},
		"inverted range": {"bills", "--year", "2021", "--from", "9", "--to", "3"},
		"zero from":      {"bills", "--year", "2021", "--from", "0", "--to", "3"},
		"missing to":     {"bills", "--year", "2021"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			calls := useApp(t, new(MockApp), nil)
			_, err := execute(args...)
			require.Error(t, err)
			assert.Zero(t, *calls, "app must not be built for invalid flags")
		})
	}
}

func TestCongresspeopleCommand(t *testing.T) {
	m := new(MockApp)
	useApp(t, m, nil)
	m.On("IngestCongresspeople", mock.Anything).
		Return(ingest.Summary{RunID: "r3", Kind: "congresspeople", Normalized: 130}, nil).Once()
	m.On("Close", mock.Anything).Return(errors.New("flush failed")).Once()

	out, err := execute("congresspeople")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush failed")
	assert.Contains(t, out, `"normalized": 130`)
	m.AssertExpectations(t)
}

func TestAppFactoryErrorIsReported(t *testing.T) {
	useApp(t, nil, errors.New("no bucket"))

	_, err := execute("congresspeople")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize application services")
}

func TestServeCommandStopsWithContext(t *testing.T) {
	m := new(MockApp)
	useApp(t, m, nil)
	m.On("OpsServer").Return(api.NewServer(api.Config{}, ingest.NewTracker(), nil, nil)).Once()
	m.On("Close", mock.Anything).Return(nil).Once()
	t.Setenv("OPENPERU_SERVER_PORT", "18089")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	require.NoError(t, root.ExecuteContext(ctx))
	m.AssertExpectations(t)
}
