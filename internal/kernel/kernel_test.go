package kernel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ex-hermes/pkg/hermes"
)

func TestRegisterModuleDependencyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		registerService bool
		wantErr         bool
	}{
		{name: "missing required service fails", wantErr: true},
		{name: "present required service succeeds", registerService: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })
			if testCase.registerService {
				if err := kernelRuntime.RegisterService(hermes.ServiceSinkDispatcher, &recordingDispatcher{}); err != nil {
					t.Fatalf("register service failed: %v", err)
				}
			}

			module := &stubModule{
				name: "cap-module",
				spec: hermes.ModuleSpec{
					AdditionalCapabilities: []hermes.Capability{
						{Name: "needs-sink", RequiredServices: []string{hermes.ServiceSinkDispatcher}},
					},
				},
			}
			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && !errors.Is(err, hermes.ErrServiceNotFound) {
				t.Fatalf("register error = %v, want %v", err, hermes.ErrServiceNotFound)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

func TestRegisterModuleRejectsDuplicates(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "dup"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "dup"})
	if !errors.Is(err, hermes.ErrModuleAlreadyRegistered) {
		t.Fatalf("second register error = %v, want %v", err, hermes.ErrModuleAlreadyRegistered)
	}

	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "d"}); err != nil {
		t.Fatalf("first driver register failed: %v", err)
	}
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "d"}); !errors.Is(err, hermes.ErrDriverAlreadyRegistered) {
		t.Fatalf("second driver register error = %v, want %v", err, hermes.ErrDriverAlreadyRegistered)
	}
}

func TestRegisterModuleRollsBackFailedRegistration(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

	failing := &stubModule{
		name: "flaky",
		spec: hermes.ModuleSpec{
			AdditionalCapabilities: []hermes.Capability{{Name: "all"}},
		},
		onRegister: func(ctx context.Context, runtime hermes.ModuleRuntime) error {
			if _, err := runtime.Subscribe(ctx, hermes.InterestSet{}, hermes.SubscriptionSpec{Name: "early"},
				func(context.Context, *hermes.Event) error { return nil }); err != nil {
				return err
			}
			return errors.New("config broken")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected registration error")
	}
	if stats := kernelRuntime.EventBus().Stats(); len(stats) != 0 {
		t.Fatalf("subscriptions after rollback = %+v, want none", stats)
	}
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "flaky"}); err != nil {
		t.Fatalf("re-register after rollback failed: %v", err)
	}
}

func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	eventually(t, 2*time.Second, func() bool { return driver.started.Load() > 0 })
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() == 0 || module.started.Load() == 0 || module.shutdown.Load() == 0 {
		t.Fatalf(
			"module hooks registered=%d started=%d shutdown=%d, want all called",
			module.registered.Load(),
			module.started.Load(),
			module.shutdown.Load(),
		)
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

func TestKernelRunReturnsDriverFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	failure := errors.New("session revoked")
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "broken", startErr: failure}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	err := kernelRuntime.Run(context.Background())
	if !errors.Is(err, failure) {
		t.Fatalf("Run() error = %v, want %v", err, failure)
	}
}

func TestRegisterModuleBindsDeclarativeHandlers(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

	handled := make(chan string, 1)
	module := &stubModule{
		name: "declarative",
		spec: hermes.ModuleSpec{
			Handlers: []hermes.ModuleHandler{
				{
					Capability: hermes.Capability{
						Name: "message-created",
						Interest: hermes.InterestSet{
							Kinds: []hermes.EventKind{hermes.EventKindMessageCreated},
						},
					},
					Subscription: hermes.SubscriptionSpec{Name: "declarative-handler", Buffer: 1, Workers: 1},
					Handler: func(_ context.Context, event *hermes.Event) error {
						handled <- event.ID
						return nil
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	if err := kernelRuntime.EventBus().Publish(context.Background(), newTestEvent("e1", hermes.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case id := <-handled:
		if id != "e1" {
			t.Fatalf("handled event id = %s, want e1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for declarative handler")
	}
}

func TestKernelReportsHandlerTimeouts(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	kernelRuntime := New(
		WithDefaultHandlerTimeout(20*time.Millisecond),
		WithAsyncErrorHandler(func(_ context.Context, scope string, err error) {
			if scope == "slow-handler" {
				reported <- err
			}
		}),
	)
	t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

	module := &stubModule{
		name: "slow",
		spec: hermes.ModuleSpec{
			Handlers: []hermes.ModuleHandler{
				{
					Capability: hermes.Capability{
						Name:     "slow-created",
						Interest: hermes.InterestSet{Kinds: []hermes.EventKind{hermes.EventKindMessageCreated}},
					},
					Subscription: hermes.NewOrderedSubscriptionSpec("slow-handler"),
					Handler: func(ctx context.Context, _ *hermes.Event) error {
						<-ctx.Done()
						return ctx.Err()
					},
				},
			},
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	if err := kernelRuntime.EventBus().Publish(context.Background(), newTestEvent("e1", hermes.EventKindMessageCreated)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case err := <-reported:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("reported error = %v, want %v", err, context.DeadlineExceeded)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for async error report")
	}
}

func TestRegisterModuleImperativeSubscriptionCapabilityGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		spec    hermes.ModuleSpec
		wantErr bool
	}{
		{
			name:    "missing capability fails",
			spec:    hermes.ModuleSpec{},
			wantErr: true,
		},
		{
			name: "additional capability allows imperative subscribe",
			spec: hermes.ModuleSpec{
				AdditionalCapabilities: []hermes.Capability{
					{
						Name: "imperative-capability",
						Interest: hermes.InterestSet{
							Kinds: []hermes.EventKind{hermes.EventKindMessageCreated},
						},
					},
				},
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			t.Cleanup(func() { _ = kernelRuntime.EventBus().Close(context.Background()) })

			module := &stubModule{
				name: "imperative",
				spec: testCase.spec,
				onRegister: func(ctx context.Context, runtime hermes.ModuleRuntime) error {
					_, err := runtime.Subscribe(ctx, hermes.InterestSet{
						Kinds: []hermes.EventKind{hermes.EventKindMessageCreated},
					}, hermes.SubscriptionSpec{Name: "imperative-handler"}, func(context.Context, *hermes.Event) error {
						return nil
					})
					if err != nil {
						return fmt.Errorf("subscribe imperative handler: %w", err)
					}
					return nil
				},
			}

			err := kernelRuntime.RegisterModule(context.Background(), module)
			if testCase.wantErr && !errors.Is(err, hermes.ErrInvalidSubscription) {
				t.Fatalf("register error = %v, want %v", err, hermes.ErrInvalidSubscription)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected module registration error: %v", err)
			}
		})
	}
}

func TestRegisterModuleSpecValidation(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *hermes.Event) error { return nil }
	created := hermes.InterestSet{Kinds: []hermes.EventKind{hermes.EventKindMessageCreated}}
	edited := hermes.InterestSet{Kinds: []hermes.EventKind{hermes.EventKindMessageEdited}}

	tests := []struct {
		name       string
		spec       hermes.ModuleSpec
		wantErrSub string
	}{
		{
			name: "empty handler capability name",
			spec: hermes.ModuleSpec{
				Handlers: []hermes.ModuleHandler{{Capability: hermes.Capability{Interest: created}, Handler: noop}},
			},
			wantErrSub: "empty capability name",
		},
		{
			name: "duplicate capability name",
			spec: hermes.ModuleSpec{
				Handlers: []hermes.ModuleHandler{
					{Capability: hermes.Capability{Name: "dup", Interest: created}, Handler: noop},
					{Capability: hermes.Capability{Name: "dup", Interest: edited}, Handler: noop},
				},
			},
			wantErrSub: "duplicate capability name",
		},
		{
			name: "nil handler",
			spec: hermes.ModuleSpec{
				Handlers: []hermes.ModuleHandler{{Capability: hermes.Capability{Name: "nil-handler", Interest: created}}},
			},
			wantErrSub: "nil handler",
		},
		{
			name: "duplicate subscription name",
			spec: hermes.ModuleSpec{
				Handlers: []hermes.ModuleHandler{
					{
						Capability:   hermes.Capability{Name: "a", Interest: created},
						Subscription: hermes.SubscriptionSpec{Name: "dup-sub"},
						Handler:      noop,
					},
					{
						Capability:   hermes.Capability{Name: "b", Interest: edited},
						Subscription: hermes.SubscriptionSpec{Name: "dup-sub"},
						Handler:      noop,
					},
				},
			},
			wantErrSub: "duplicate subscription name",
		},
		{
			name: "duplicate additional capability name",
			spec: hermes.ModuleSpec{
				Handlers:               []hermes.ModuleHandler{{Capability: hermes.Capability{Name: "cap", Interest: created}, Handler: noop}},
				AdditionalCapabilities: []hermes.Capability{{Name: "cap"}},
			},
			wantErrSub: "duplicate capability name",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			kernelRuntime := New()
			err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "invalid", spec: testCase.spec})
			if err == nil {
				t.Fatal("expected module registration error")
			}
			if !strings.Contains(err.Error(), testCase.wantErrSub) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
			}
		})
	}
}

type stubModule struct {
	name string
	spec hermes.ModuleSpec

	onRegister func(ctx context.Context, runtime hermes.ModuleRuntime) error

	registered atomic.Int32
	started    atomic.Int32
	shutdown   atomic.Int32
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) Spec() hermes.ModuleSpec {
	return m.spec
}

func (m *stubModule) OnRegister(ctx context.Context, runtime hermes.ModuleRuntime) error {
	m.registered.Add(1)
	if m.onRegister != nil {
		return m.onRegister(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	startErr error

	started atomic.Int32
	stopped atomic.Int32
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, _ hermes.EventDispatcher) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	<-ctx.Done()
	return nil
}

func (d *stubDriver) Shutdown(context.Context) error {
	d.stopped.Add(1)
	return nil
}
