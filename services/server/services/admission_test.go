// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionGuard_AcquireWithinCapacity(t *testing.T) {
	guard := NewAdmissionGuard(2, 50*time.Millisecond, time.Second)

	release1, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	release2, err := guard.Acquire(context.Background())
	require.NoError(t, err)

	release1()
	release2()
}

func TestAdmissionGuard_RejectsWhenSaturated(t *testing.T) {
	guard := NewAdmissionGuard(1, 20*time.Millisecond, 7*time.Second)

	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)

	_, err = guard.Acquire(context.Background())
	require.True(t, IsRagOverloadedError(err))
	var overloaded *RagOverloadedError
	require.ErrorAs(t, err, &overloaded)
	assert.Equal(t, 7*time.Second, overloaded.RetryAfter)

	// Releasing the held slot makes the next acquire succeed.
	release()
	release2, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAdmissionGuard_WaiterGetsSlotFreedDuringWait(t *testing.T) {
	guard := NewAdmissionGuard(1, 500*time.Millisecond, time.Second)

	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		release()
	}()

	// The waiter should be admitted well before the wait deadline.
	release2, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestAdmissionGuard_CanceledContextIsNotOverload(t *testing.T) {
	guard := NewAdmissionGuard(1, time.Second, time.Second)

	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = guard.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsRagOverloadedError(err))
}

func TestNewAdmissionGuard_AppliesFloors(t *testing.T) {
	guard := NewAdmissionGuard(0, 0, 0)

	assert.Equal(t, time.Second, guard.RetryAfter())

	// Floor of one slot still admits a request.
	release, err := guard.Acquire(context.Background())
	require.NoError(t, err)
	release()
}
