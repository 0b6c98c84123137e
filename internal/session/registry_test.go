package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/voyage/internal/message"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, m *Member) message.Message {
	t.Helper()
	select {
	case b := <-m.Frames():
		msg, err := message.Decode(b)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", m.ClientID())
		return nil
	}
}

func drain(m *Member) {
	for {
		select {
		case <-m.Frames():
		default:
			return
		}
	}
}

func TestAdmitBroadcastsStatus(t *testing.T) {
	r := NewRegistry(Options{})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	assert.Equal(t, message.RoleStatus{Data: map[string]bool{"captain": true, "specialist": false}}, next(t, a))

	b, err := r.Admit("space", "bbbb", "specialist")
	require.NoError(t, err)

	want := message.RoleStatus{Data: map[string]bool{"captain": true, "specialist": true}}
	assert.Equal(t, want, next(t, a))
	assert.Equal(t, want, next(t, b))
}

func TestAdmitRejectsOccupiedRole(t *testing.T) {
	r := NewRegistry(Options{})

	_, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)

	_, err = r.Admit("space", "bbbb", "Captain")
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "captain slot occupied", rej.Reason)
	assert.Equal(t, "captain", rej.Role)

	// Same role in another session is independent.
	_, err = r.Admit("pirate", "bbbb", "captain")
	require.NoError(t, err)
}

func TestAdmitValidation(t *testing.T) {
	r := NewRegistry(Options{OpenRoles: []string{"observer"}})

	_, err := r.Admit("space", "", "captain")
	assert.ErrorIs(t, err, ErrMissingClientID)

	_, err = r.Admit("", "aaaa", "captain")
	assert.ErrorIs(t, err, ErrMissingSession)

	_, err = r.Admit("space", "aaaa", "mechanic")
	assert.ErrorIs(t, err, ErrUnknownRole)

	_, err = r.Admit("space", "aaaa", "observer")
	require.NoError(t, err)
	_, err = r.Admit("space", "aaaa", "captain")
	assert.ErrorIs(t, err, ErrDuplicateClient)
}

func TestOpenRolesAreShared(t *testing.T) {
	r := NewRegistry(Options{OpenRoles: []string{"observer"}})

	for i := 0; i < 3; i++ {
		_, err := r.Admit("space", fmt.Sprintf("obs-%d", i), "observer")
		require.NoError(t, err)
	}
	st := r.Status("space")
	assert.NotContains(t, st.Data, "observer")
	assert.False(t, st.Occupied("captain"))
}

func TestConcurrentAdmissionSingleWinner(t *testing.T) {
	r := NewRegistry(Options{})

	const n = 32
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		rejected int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := r.Admit("space", fmt.Sprintf("c%02d", i), "captain")
			mu.Lock()
			defer mu.Unlock()
			var rej *RejectedError
			switch {
			case err == nil:
				admitted++
			case errors.As(err, &rej):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, n-1, rejected)
}

func TestLeaveFreesRoleAndRebroadcasts(t *testing.T) {
	r := NewRegistry(Options{})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	b, err := r.Admit("space", "bbbb", "specialist")
	require.NoError(t, err)
	drain(a)
	drain(b)

	a.Leave()
	a.Leave()

	select {
	case <-a.Done():
	default:
		t.Fatal("member not closed after Leave")
	}
	assert.Equal(t, message.RoleStatus{Data: map[string]bool{"captain": false, "specialist": true}}, next(t, b))

	c, err := r.Admit("space", "cccc", "captain")
	require.NoError(t, err)
	assert.True(t, next(t, c).(message.RoleStatus).Occupied("captain"))
}

func TestStaleLeaveDoesNotFreeNewHolder(t *testing.T) {
	r := NewRegistry(Options{})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	keep, err := r.Admit("space", "keep", "specialist")
	require.NoError(t, err)
	a.Leave()

	b, err := r.Admit("space", "bbbb", "captain")
	require.NoError(t, err)
	a.Leave()

	assert.True(t, r.Status("space").Occupied("captain"))
	_ = b
	_ = keep
}

func TestSessionRemovedWhenEmpty(t *testing.T) {
	r := NewRegistry(Options{})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())

	a.Leave()
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Get("space"))
	assert.False(t, r.Publish("space", message.System("anyone?")))

	// A fresh session starts with every role free.
	b, err := r.Admit("space", "bbbb", "captain")
	require.NoError(t, err)
	assert.Equal(t, message.RoleStatus{Data: map[string]bool{"captain": true, "specialist": false}}, next(t, b))
}

func TestPublishTotalOrder(t *testing.T) {
	r := NewRegistry(Options{SendBuffer: 512})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	b, err := r.Admit("space", "bbbb", "specialist")
	require.NoError(t, err)
	drain(a)
	drain(b)

	// Concurrent publishers: whatever order wins, both members see the same one.
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Publish("space", message.Human("captain", fmt.Sprintf("%d-%d", p, i)))
			}
		}(p)
	}
	wg.Wait()

	var seenA, seenB []string
	for i := 0; i < 200; i++ {
		seenA = append(seenA, next(t, a).(message.Content).Content)
		seenB = append(seenB, next(t, b).(message.Content).Content)
	}
	assert.Equal(t, seenA, seenB)
}

func TestSessionKeyIgnoresSurroundingSpace(t *testing.T) {
	r := NewRegistry(Options{})

	m, err := r.Admit(" bridge ", "aaaa", "captain")
	require.NoError(t, err)
	drain(m)
	assert.Equal(t, "bridge", m.Session().Key())
	require.NotNil(t, r.Get("bridge"))

	require.True(t, r.Publish(" bridge", message.Human("captain", "hello")))
	assert.Equal(t, message.Human("captain", "hello"), next(t, m))
	assert.True(t, r.Status("bridge ").Occupied("captain"))
}

func TestAnnouncements(t *testing.T) {
	r := NewRegistry(Options{Announce: true})

	a, err := r.Admit("space", "aaaa", "captain")
	require.NoError(t, err)
	assert.Equal(t, message.TypeRoleStatus, next(t, a).Kind())
	assert.Equal(t, message.System("CAPTAIN joined the voyage."), next(t, a))

	b, err := r.Admit("space", "bbbb", "specialist")
	require.NoError(t, err)
	drain(a)
	drain(b)

	b.Leave()
	assert.Equal(t, message.TypeRoleStatus, next(t, a).Kind())
	assert.Equal(t, message.System("SPECIALIST left the voyage."), next(t, a))
}

func TestSlowMemberDropped(t *testing.T) {
	r := NewRegistry(Options{SendBuffer: 2})

	slow, err := r.Admit("space", "slow", "captain")
	require.NoError(t, err)
	fast, err := r.Admit("space", "fast", "specialist")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		drain(fast)
		r.Publish("space", message.System(fmt.Sprintf("tick %d", i)))
	}

	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow member was not dropped")
	}
	assert.False(t, r.Status("space").Occupied("captain"))
	assert.True(t, r.Status("space").Occupied("specialist"))
}
