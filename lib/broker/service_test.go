// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/cloudconnect/lib/devicemgmt"
	"github.com/bureau-foundation/cloudconnect/lib/ipc"
	"github.com/bureau-foundation/cloudconnect/lib/resource"
	"github.com/bureau-foundation/cloudconnect/lib/status"
	"github.com/bureau-foundation/cloudconnect/lib/testutil"
)

func startBroker(t *testing.T, backend devicemgmt.Client) (*Broker, string) {
	t.Helper()
	socketDir := testutil.SocketDir(t)
	b, err := New(Options{
		Endpoint:          ipc.EndpointOptions{SocketDir: socketDir, Compression: ipc.CompressionZstd, CompressThreshold: 64},
		HeartbeatInterval: time.Second,
		Backend:           backend,
		Logger:            testutil.Logger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return b, socketDir
}

func dialBroker(t *testing.T, socketDir string) *Client {
	t.Helper()
	client, err := Dial(context.Background(), ClientOptions{
		SocketDir: socketDir,
		IPC:       ipc.ClientOptions{Logger: testutil.Logger()},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestBrokerEndToEnd(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{Logger: testutil.Logger()})
	b, socketDir := startBroker(t, backend)
	client := dialBroker(t, socketDir)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	token, err := client.RegisterResources(ctx, testDefinition)
	if err != nil {
		t.Fatalf("RegisterResources: %v", err)
	}
	result := testutil.RequireReceive(t, client.RegistrationResults(), testTimeout, "registration result")
	if result.Status != status.Success || result.Token != token {
		t.Fatalf("RegistrationResult = %+v, want success for %s", result, token)
	}

	_, err = client.RegisterResources(ctx, testDefinition)
	if status.FromError(err) != status.AlreadyRegistered {
		t.Fatalf("second RegisterResources = %v, want AlreadyRegistered", err)
	}

	codes, err := client.SetResourcesValues(ctx, token, []SetOperation{
		{Path: "/8888/11/111", Value: resource.StringValue("hello")},
		{Path: "/8888", Value: resource.StringValue("hello")},
	})
	if err != nil {
		t.Fatalf("SetResourcesValues: %v", err)
	}
	if len(codes) != 2 || codes[0] != status.Success || codes[1] != status.InvalidResourcePath {
		t.Fatalf("set codes = %v", codes)
	}

	values, err := client.GetResourcesValues(ctx, token, []GetOperation{
		{Path: "/8888/11/111", Type: resource.TypeString},
		{Path: "/8888/11/112", Type: resource.TypeInteger},
	})
	if err != nil {
		t.Fatalf("GetResourcesValues: %v", err)
	}
	if len(values) != 2 || values[0].Value.String != "hello" || values[1].Value.Integer != 7 {
		t.Fatalf("values = %+v", values)
	}

	snapshot, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(snapshot.Records) != 1 || snapshot.Records[0].State != "registered" || snapshot.Connections != 1 {
		t.Fatalf("status = %+v", snapshot)
	}
	// The GetStatus call answering this is not counted.
	if snapshot.PendingCalls != 0 {
		t.Fatalf("pending calls = %d, want 0", snapshot.PendingCalls)
	}

	if err := client.DeregisterResources(ctx, token); err != nil {
		t.Fatalf("DeregisterResources: %v", err)
	}
	if records := b.Snapshot().Records; len(records) != 0 {
		t.Fatalf("records after deregistration = %+v", records)
	}
	if _, err := client.GetResourcesValues(ctx, token, nil); status.FromError(err) != status.InvalidAccessToken {
		t.Fatalf("get after deregistration = %v", err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if state := b.Snapshot().State; state != StateUninitialized.String() {
		t.Fatalf("state after Stop = %s", state)
	}
}

func TestBrokerSecondRegistrationWhileInProgress(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{
		Delay:  time.Hour,
		Logger: testutil.Logger(),
	})
	b, socketDir := startBroker(t, backend)
	defer b.Stop()
	first := dialBroker(t, socketDir)
	second := dialBroker(t, socketDir)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if _, err := first.RegisterResources(ctx, testDefinition); err != nil {
		t.Fatalf("RegisterResources: %v", err)
	}
	_, err := second.RegisterResources(ctx, testDefinition)
	if status.FromError(err) != status.RegistrationAlreadyInProgress {
		t.Fatalf("second RegisterResources = %v, want RegistrationAlreadyInProgress", err)
	}
	var statusErr *status.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error %T is not a StatusError", err)
	}
}

func TestBrokerRegistrationFailureSignalled(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{
		RegistrationFailure: status.RegistrationFailed,
		Logger:              testutil.Logger(),
	})
	b, socketDir := startBroker(t, backend)
	defer b.Stop()
	client := dialBroker(t, socketDir)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	token, err := client.RegisterResources(ctx, testDefinition)
	if err != nil {
		t.Fatalf("RegisterResources: %v", err)
	}
	result := testutil.RequireReceive(t, client.RegistrationResults(), testTimeout, "registration result")
	if result.Status != status.RegistrationFailed || result.Token != token {
		t.Fatalf("RegistrationResult = %+v", result)
	}
	if _, err := client.SetResourcesValues(ctx, token, nil); status.FromError(err) != status.InvalidAccessToken {
		t.Fatalf("set after failure = %v", err)
	}
}

func TestBrokerReleasesRegistrationWhenClientDisconnects(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{Logger: testutil.Logger()})
	b, socketDir := startBroker(t, backend)
	defer b.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	client := dialBroker(t, socketDir)
	token, err := client.RegisterResources(ctx, testDefinition)
	if err != nil {
		t.Fatalf("RegisterResources: %v", err)
	}
	testutil.RequireReceive(t, client.RegistrationResults(), testTimeout, "registration result")
	client.Close()

	testutil.Eventually(t, testTimeout, func() bool {
		return len(b.Snapshot().Records) == 0
	}, "record released")

	other := dialBroker(t, socketDir)
	if _, err := other.GetResourcesValues(ctx, token, nil); status.FromError(err) != status.InvalidAccessToken {
		t.Fatalf("token survived its connections: %v", err)
	}
}

func TestBrokerReleasesDeferredCallAfterOrphanedDeregistrationFails(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{
		Delay:                 300 * time.Millisecond,
		DeregistrationFailure: status.DeregistrationFailed,
		Logger:                testutil.Logger(),
	})
	b, socketDir := startBroker(t, backend)
	defer b.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	client := dialBroker(t, socketDir)
	token, err := client.RegisterResources(ctx, testDefinition)
	if err != nil {
		t.Fatalf("RegisterResources: %v", err)
	}
	result := testutil.RequireReceive(t, client.RegistrationResults(), testTimeout, "registration result")
	if result.Status != status.Success {
		t.Fatalf("RegistrationResult = %+v", result)
	}

	deregistered := make(chan error, 1)
	go func() { deregistered <- client.DeregisterResources(ctx, token) }()
	testutil.Eventually(t, testTimeout, func() bool {
		records := b.Snapshot().Records
		return len(records) == 1 && records[0].State == "deregistering"
	}, "deregistration in flight")
	client.Close()
	testutil.RequireReceive(t, deregistered, testTimeout, "deregister call returns on close")

	testutil.Eventually(t, testTimeout, func() bool {
		snapshot := b.Snapshot()
		return len(snapshot.Records) == 0 && snapshot.PendingCalls == 0
	}, "orphan destroyed and its call released")

	other := dialBroker(t, socketDir)
	snapshot, err := other.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snapshot.PendingCalls != 0 || len(snapshot.Records) != 0 {
		t.Fatalf("status = %+v, want no records and no pending calls", snapshot)
	}
}

func TestBrokerRestart(t *testing.T) {
	backend := devicemgmt.NewSimulated(devicemgmt.SimulatedOptions{Logger: testutil.Logger()})
	b, socketDir := startBroker(t, backend)
	if err := b.Start(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Start while running = %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Stop while stopped = %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	client := dialBroker(t, socketDir)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if _, err := client.Status(ctx); err != nil {
		t.Fatalf("Status after restart: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
