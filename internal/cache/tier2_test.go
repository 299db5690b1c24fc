// Claviger - Layered Authorization Engine with Tiered Decision Cache
// Copyright 2026 A. Keller (claviger-project)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/claviger-project/claviger

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/claviger-project/claviger/internal/breaker"
)

// unreachableTier2 targets a port nothing listens on. Retries are disabled so
// each call costs exactly one breaker failure.
func unreachableTier2(name string, threshold uint32) *Tier2 {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	br := breaker.New(breaker.Options{
		Name:             name,
		Timeout:          500 * time.Millisecond,
		FailureThreshold: threshold,
		OpenTimeout:      time.Minute,
	})
	return NewTier2(client, "", br)
}

func TestNewTier2_DefaultPrefix(t *testing.T) {
	t2 := NewTier2(nil, "", tier3TestBreaker("prefix-default"))
	if t2.prefix != defaultKeyPrefix {
		t.Errorf("prefix = %q, want %q", t2.prefix, defaultKeyPrefix)
	}

	t2 = NewTier2(nil, "staging", tier3TestBreaker("prefix-custom"))
	if t2.prefix != "staging" {
		t.Errorf("prefix = %q, want %q", t2.prefix, "staging")
	}
}

func TestTier2_KeyNamespacing(t *testing.T) {
	t2 := NewTier2(nil, "claviger", tier3TestBreaker("namespacing"))
	key := TeamMembershipKey(testSubject, testTeam, "read", "v1")

	if got, want := t2.entryKey(key), "claviger:"+key.String(); got != want {
		t.Errorf("entryKey = %q, want %q", got, want)
	}
	if got, want := t2.memberKey(key.String()), "claviger:"+key.String(); got != want {
		t.Errorf("memberKey = %q, want %q", got, want)
	}
	tag := SubjectTag(testSubject)
	if got, want := t2.tagKey(tag), "claviger:tag:"+tag; got != want {
		t.Errorf("tagKey = %q, want %q", got, want)
	}
}

func TestTier2_GetUnavailableBackend(t *testing.T) {
	t2 := unreachableTier2("redis-get-down", 2)
	defer t2.client.Close()
	ctx := context.Background()

	key := permKey(1)
	for i := 0; i < 2; i++ {
		_, ok, err := t2.Get(ctx, key)
		if ok {
			t.Fatalf("Get %d reported a hit from an unreachable backend", i)
		}
		if err == nil {
			t.Fatalf("Get %d returned nil error, want connection failure", i)
		}
		if errors.Is(err, ErrBackendUnavailable) {
			t.Fatalf("Get %d rejected before the threshold", i)
		}
	}

	// Threshold reached: the circuit is open and calls are refused without
	// dialing.
	_, _, err := t2.Get(ctx, key)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Get after breaker opened returned %v, want ErrBackendUnavailable", err)
	}
}

func TestTier2_SetSkipsExpiredEntry(t *testing.T) {
	t2 := unreachableTier2("redis-set-expired", 2)
	defer t2.client.Close()

	key := permKey(1)
	e := testEntry(key, 50*time.Millisecond)
	e.ExpiresAt = time.Now().Add(-time.Second)

	// The backend is unreachable, so a nil error proves no call was made.
	if err := t2.Set(context.Background(), key, e); err != nil {
		t.Errorf("Set of an expired entry returned %v, want nil without a backend call", err)
	}
	if t2.br.State() != "closed" {
		t.Errorf("breaker state = %q, want closed", t2.br.State())
	}
}

func TestTier2_SetUnavailableBackend(t *testing.T) {
	t2 := unreachableTier2("redis-set-down", 5)
	defer t2.client.Close()

	key := permKey(1)
	if err := t2.Set(context.Background(), key, testEntry(key, time.Minute)); err == nil {
		t.Error("Set against an unreachable backend returned nil error")
	}
}

func TestTier2_InvalidateTagUnavailableBackend(t *testing.T) {
	t2 := unreachableTier2("redis-inv-down", 5)
	defer t2.client.Close()

	n, err := t2.InvalidateTag(context.Background(), SubjectTag(testSubject))
	if err == nil {
		t.Error("InvalidateTag against an unreachable backend returned nil error")
	}
	if n != 0 {
		t.Errorf("InvalidateTag reported %d deletions from an unreachable backend", n)
	}
}

func TestTier2_PingUnavailableBackend(t *testing.T) {
	t2 := unreachableTier2("redis-ping-down", 5)
	defer t2.client.Close()

	if err := t2.Ping(context.Background()); err == nil {
		t.Error("Ping against an unreachable backend returned nil error")
	}
}
